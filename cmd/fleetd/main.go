package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/cuemby/fleetd/pkg/config"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "fleetd - a pre-forking, shared-nothing worker pool supervisor",
	Long: `fleetd supervises a pool of single-threaded worker processes that
share one accept lock via anonymous shared memory, coordinate over a
typed control channel, and hand TLS material to a reserved key-manager
slot. It is a from-scratch rework of the classic pre-fork web server
process model for a Go runtime that cannot fork bare.`,
	Version: Version,
	RunE:    runSupervisor,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	// Persistent (not local) so a re-exec'd "internal-worker" invocation,
	// which carries --config (when one was given) before the subcommand name, parses it
	// the same way the top-level supervisor command does.
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to fleetd YAML configuration file")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")
	rootCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(internalWorkerCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func startMetricsServer(cmd *cobra.Command) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if pprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
}
