package main

import (
	"fmt"
	"lite-rpc/config"
	"lite-rpc/registry"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	codecName  string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "literpc",
		Short: "A lightweight RPC framework",
		Long: `literpc serves and calls services over a length-prefixed TCP protocol.

Methods are selected by interface, version, name and parameter types, so one
name can carry several overloads and one interface several versions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.FileName, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&a.codecName, "codec", "", "Codec: json or binary (overrides the configuration)")

	rootCmd.AddCommand(
		serveCmd(a),
		callCmd(a),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.codecName != "" {
		cfg.Codec = a.codecName
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// registry connects to etcd when endpoints are configured, and returns nil otherwise.
func (a *app) registry() (registry.Registry, error) {
	if !a.cfg.UseEtcd() {
		return nil, nil
	}
	return registry.NewEtcdRegistry(a.cfg.Etcd.Endpoints, a.cfg.Etcd.DialTimeout.Std(), a.logger)
}
