package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kheven/swarm/internal/scenario"
	"github.com/kheven/swarm/internal/swarm/config"
)

func newScenarioCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Print the effective run configuration as YAML",
		Long: `Print the configuration a run would use after defaults, the config
file, environment variables and flags are applied. The output can be
saved and passed back with --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(opts, cmd.Flags(), os.LookupEnv)
			if err != nil {
				return err
			}
			if cfg.WaitTime == nil && len(cfg.Tasks) == 0 && cfg.Scenario == config.DefaultScenario {
				cfg.WaitTime = &config.WaitTimeConfig{
					Type: config.WaitBetween,
					Min:  config.Duration(scenario.MinWait),
					Max:  config.Duration(scenario.MaxWait),
				}
				cfg.Tasks = []config.TaskConfig{
					{Name: "index", Method: "GET", Path: scenario.IndexPath, Weight: 2},
					{Name: "slow_endpoint", Method: "GET", Path: scenario.SlowPath, Weight: 1},
				}
			}

			data, err := config.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Run configuration file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to load test")
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Registered user class")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered user classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range scenario.List() {
				fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Description)
			}
			return tw.Flush()
		},
	})
	return cmd
}
