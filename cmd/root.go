package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/pase-pipeline/checkpoint"
	"github.com/maastricht-university/pase-pipeline/clients"
	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/orchestrator"
)

var (
	configPath string
	logLevel   string
	conf       *config.Root
)

var rootCmd = &cobra.Command{
	Use:           "pase",
	Short:         "Build and exercise PASE multi-task encoder models",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		conf = c

		lvl := c.LogLvl
		if cmd.Flags().Changed("log-level") {
			lvl = logLevel
		}
		parsed, err := logrus.ParseLevel(lvl)
		if err != nil {
			return err
		}
		logrus.SetLevel(parsed)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: config/$CONFIG_ENV/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd, inspectCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// buildModel builds the configured variant with checkpoints resolved over
// HTTP and S3.
func buildModel(ctx context.Context, c *config.Root, opts ...orchestrator.Option) (orchestrator.Model, error) {
	loader := &checkpoint.Loader{
		HTTP: clients.NewHTTP(),
		S3: func(ctx context.Context) (*clients.S3, error) {
			return clients.NewS3(ctx, c.S3)
		},
	}
	return orchestrator.New(ctx, c, append([]orchestrator.Option{orchestrator.WithLoader(loader)}, opts...)...)
}
