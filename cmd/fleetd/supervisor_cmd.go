package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/supervisor"
	"github.com/spf13/cobra"
)

// pumpInterval bounds how often the supervisor polls every worker's
// control channel for an inbound frame to route.
const pumpInterval = 20 * time.Millisecond

// reapInterval is how often the supervisor polls for exited children;
// reaping is driven only by this ticker, not by SIGCHLD.
const reapInterval = 200 * time.Millisecond

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	var extraArgs []string
	if configPath != "" {
		extraArgs = append(extraArgs, "--config", configPath)
	}

	policy := supervisor.PolicyRestart
	if cfg.WorkerPolicy == "TERMINATE" {
		policy = supervisor.PolicyTerminate
	}

	sup, err := supervisor.New(supervisor.Config{
		WorkerCount: cfg.WorkerCount,
		EnableACME:  cfg.EnableACME,
		Policy:      policy,
		SelfExe:     selfExe,
		ExtraArgs:   extraArgs,
	}, log.WithComponent("supervisor"))
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	if err := sup.Start(); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	startMetricsServer(cmd)

	sigCh := armShutdownSignals()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	pump := time.NewTicker(pumpInterval)
	defer pump.Stop()

	for {
		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutdown requested")
			return sup.Shutdown()
		case <-ticker.C:
			if sup.ReapOnce() {
				log.Logger.Error().Msg("reserved-role worker lost, shutting down")
				return sup.Shutdown()
			}
		case <-pump.C:
			sup.PumpOnce()
		}
	}
}
