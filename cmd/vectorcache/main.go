package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/config"
	"simmgate-vectorcache/pkg/logging/logging"
)

var version = "dev"

func main() {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:           "vectorcache",
		Short:         "LLM response cache and vector retrieval over a document store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VECTORCACHE_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug | info | warn | error (default from LOG_LEVEL)")

	load := func() (*config.Config, *zap.Logger, error) {
		logger, err := logging.Build(logging.Options{Level: logLevel})
		if err != nil {
			return nil, nil, fmt.Errorf("build logger: %w", err)
		}
		logging.SetDefault(logger)

		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, logger, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newClearCmd(load),
		newSearchCmd(load),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, *zap.Logger, error)
