package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/internal/config"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Manage the static route table",
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Destination", "Link"})
		for _, r := range cfg.Routes {
			table.Append([]string{r.Dest, r.Link})
		}
		table.Render()
		return nil
	},
}

var routeAddCmd = &cobra.Command{
	Use:   "add <dest-pattern> <link>",
	Short: "Add a route",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cfg.Routes = append(cfg.Routes, config.RouteConfig{Dest: args[0], Link: args[1]})
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, savePath()); err != nil {
			return err
		}
		fmt.Printf("Route %q -> %q added\n", args[0], args[1])
		return nil
	},
}

var routeAddIPNRangeCmd = &cobra.Command{
	Use:   "add-ipn-range <start-node> <end-node> <link>",
	Short: "Add one route per ipn node number in [start, end]",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid start node %q: %w", args[0], err)
		}
		end, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid end node %q: %w", args[1], err)
		}
		if end < start {
			return fmt.Errorf("end node %d below start node %d", end, start)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for node := start; node <= end; node++ {
			cfg.Routes = append(cfg.Routes, config.RouteConfig{
				Dest: fmt.Sprintf("ipn:%d.*", node),
				Link: args[2],
			})
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, savePath()); err != nil {
			return err
		}
		fmt.Printf("%d routes added toward %q\n", end-start+1, args[2])
		return nil
	},
}

var routeDelCmd = &cobra.Command{
	Use:   "del <dest-pattern>",
	Short: "Delete every route matching the destination pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		kept := cfg.Routes[:0]
		removed := 0
		for _, r := range cfg.Routes {
			if r.Dest == args[0] {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		cfg.Routes = kept

		if err := config.SaveConfig(cfg, savePath()); err != nil {
			return err
		}
		fmt.Printf("%d routes removed\n", removed)
		return nil
	},
}

func init() {
	routeCmd.AddCommand(routeListCmd)
	routeCmd.AddCommand(routeAddCmd)
	routeCmd.AddCommand(routeAddIPNRangeCmd)
	routeCmd.AddCommand(routeDelCmd)
}
