package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/internal/bytesize"
	"github.com/marmos91/dtnd/internal/config"
	"github.com/marmos91/dtnd/pkg/link"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage links",
}

var linkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured links",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Type", "Next Hop", "Remote EID", "CL", "MTU", "Retry"})
		for _, l := range cfg.Links {
			mtu := "unlimited"
			if l.MTU > 0 {
				mtu = bytesize.ByteSize(l.MTU).String()
			}
			table.Append([]string{
				l.Name, l.Type, l.NextHop, l.RemoteEID, l.ConvergenceLayer,
				mtu, fmt.Sprintf("%s..%s", l.MinRetryInterval, l.MaxRetryInterval),
			})
		}
		table.Render()
		return nil
	},
}

var (
	linkAddType          string
	linkAddNextHop       string
	linkAddRemoteEID     string
	linkAddCL            string
	linkAddMTU           uint64
	linkAddMinRetry      time.Duration
	linkAddMaxRetry      time.Duration
	linkAddIdleClose     time.Duration
	linkAddPrevHopHeader bool
	linkAddCost          int
)

var linkAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a link to the configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := link.ParseType(linkAddType); !ok {
			return fmt.Errorf("invalid link type %q", linkAddType)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, l := range cfg.Links {
			if l.Name == args[0] {
				return fmt.Errorf("link %q already exists", args[0])
			}
		}

		cfg.Links = append(cfg.Links, config.LinkConfig{
			Name:             args[0],
			Type:             linkAddType,
			NextHop:          linkAddNextHop,
			RemoteEID:        linkAddRemoteEID,
			ConvergenceLayer: linkAddCL,
			MTU:              linkAddMTU,
			MinRetryInterval: linkAddMinRetry,
			MaxRetryInterval: linkAddMaxRetry,
			IdleCloseTime:    linkAddIdleClose,
			PrevHopHeader:    linkAddPrevHopHeader,
			Cost:             linkAddCost,
		})

		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, savePath()); err != nil {
			return err
		}
		fmt.Printf("Link %q added\n", args[0])
		return nil
	},
}

func init() {
	linkAddCmd.Flags().StringVar(&linkAddType, "type", "alwayson", "Link type (alwayson, ondemand, scheduled, opportunistic)")
	linkAddCmd.Flags().StringVar(&linkAddNextHop, "nexthop", "", "Convergence-layer next-hop address")
	linkAddCmd.Flags().StringVar(&linkAddRemoteEID, "remote-eid", "", "Remote endpoint id pattern")
	linkAddCmd.Flags().StringVar(&linkAddCL, "cl", "tcp", "Convergence-layer adapter name")
	linkAddCmd.Flags().Uint64Var(&linkAddMTU, "mtu", 0, "Maximum transmission unit (0 = unlimited)")
	linkAddCmd.Flags().DurationVar(&linkAddMinRetry, "min-retry-interval", 0, "Minimum retry interval")
	linkAddCmd.Flags().DurationVar(&linkAddMaxRetry, "max-retry-interval", 0, "Maximum retry interval")
	linkAddCmd.Flags().DurationVar(&linkAddIdleClose, "idle-close-time", 0, "Idle close time (ondemand links)")
	linkAddCmd.Flags().BoolVar(&linkAddPrevHopHeader, "prevhop-hdr", false, "Carry previous-hop blocks on this link")
	linkAddCmd.Flags().IntVar(&linkAddCost, "cost", 0, "Router-visible link cost")
	_ = linkAddCmd.MarkFlagRequired("nexthop")
	_ = linkAddCmd.MarkFlagRequired("remote-eid")

	linkCmd.AddCommand(linkListCmd)
	linkCmd.AddCommand(linkAddCmd)
}
