package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(opts, cmd.Flags(), os.LookupEnv)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			user, err := resolveUser(cfg)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if err := user.Validate(); err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid: %s\n", cfg.Name)
			fmt.Fprintf(out, "  host:  %s\n", cfg.Host)
			fmt.Fprintf(out, "  users: %d at %.2f/s\n", cfg.Users, cfg.SpawnRate)
			for _, t := range user.Tasks {
				fmt.Fprintf(out, "  task:  %s (weight %d)\n", t.Name, t.Weight)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Run configuration file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to validate against the configuration")
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Registered user class")
	return cmd
}
