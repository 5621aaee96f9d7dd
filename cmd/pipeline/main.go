package main

import (
	"context"
	"fmt"
	"os"

	"cip-pipeline/internal/config"
	"cip-pipeline/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// globalParams holds the flags shared by every subcommand.
type globalParams struct {
	confFilePath string
	logLevel     string
}

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	params := &globalParams{}
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "CIP wash-cycle compliance pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&params.confFilePath, "config", "c", "", "path to cip.yaml")
	root.PersistentFlags().StringVar(&params.logLevel, "log-level", "", "override log.level")

	root.AddCommand(runCommand(params), serveCommand(params), configCommand(params))
	return root
}

// loadConfig reads the config file, or the defaults when none is given.
func (p *globalParams) loadConfig() (*config.Config, error) {
	if p.confFilePath == "" {
		return config.Default(), nil
	}
	return config.Load(p.confFilePath)
}

// setup loads the config and installs the process logger.
func (p *globalParams) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := p.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if p.logLevel != "" {
		level = p.logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
