package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/internal/config"
	"github.com/marmos91/dtnd/pkg/registration"
)

var registrationCmd = &cobra.Command{
	Use:     "registration",
	Aliases: []string{"reg"},
	Short:   "Manage bootstrap registrations",
}

var registrationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured registrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Endpoint Pattern", "Failure Action"})
		for _, r := range cfg.Registrations {
			action := r.FailureAction
			if action == "" {
				action = "defer"
			}
			table.Append([]string{r.EndpointPattern, action})
		}
		table.Render()
		return nil
	},
}

var registrationAddFailureAction string

var registrationAddCmd = &cobra.Command{
	Use:   "add <endpoint-pattern>",
	Short: "Add a bootstrap registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := registration.ParseFailureAction(registrationAddFailureAction); !ok {
			return fmt.Errorf("invalid failure action %q", registrationAddFailureAction)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Registrations = append(cfg.Registrations, config.RegistrationConfig{
			EndpointPattern: args[0],
			FailureAction:   registrationAddFailureAction,
		})

		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, savePath()); err != nil {
			return err
		}
		fmt.Printf("Registration for %q added\n", args[0])
		return nil
	},
}

func init() {
	registrationAddCmd.Flags().StringVar(&registrationAddFailureAction, "failure-action", "defer", "Action while no application is attached (defer, drop, exec)")

	registrationCmd.AddCommand(registrationListCmd)
	registrationCmd.AddCommand(registrationAddCmd)
}
