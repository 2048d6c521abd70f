package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/fleetd/pkg/acceptlock"
	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/cuemby/fleetd/pkg/config"
	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/demux"
	"github.com/cuemby/fleetd/pkg/keymgr"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/cuemby/fleetd/pkg/tasks"
	"github.com/cuemby/fleetd/pkg/timers"
	"github.com/cuemby/fleetd/pkg/workerloop"
	"github.com/rs/zerolog"
)

// keymgrPumpInterval bounds how often the reserved KEYMGR process polls
// its endpoint for a request while idle.
const keymgrPumpInterval = 10 * time.Millisecond

// runGeneralRole builds a Loop wired with this process's share of the
// collaborators (demultiplexer, timers, tasks, accept lock, per-process
// keymgr handler) and drives it until shutdown.
func runGeneralRole(cfg config.Config, reg *region.Region, env workerEnv, endpoint *channel.Endpoint, log zerolog.Logger) error {
	registry := keymgr.NewRegistry()
	if len(cfg.Domains) > 0 {
		registry.AddServer(cfg.Domains...)
	}
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	pool := keymgr.NewPool(append(seed, []byte(fmt.Sprintf("slot-%d", env.slot))...))
	handler := keymgr.New(registry, pool, log)

	gates := acceptlock.LoadGates{
		ActiveConnections: func() int { return 0 },
		MaxConnections:    cfg.WorkerMaxConnections,
	}
	lock := acceptlock.New(reg, env.slot, int32(os.Getpid()), env.numSlots, false, gates,
		func() error { return endpoint.TrySend(control.Frame{Kind: control.KindAcceptAvailable, To: control.TargetAllWorkers}) },
		log)

	timerQueue := timers.New(nil)
	taskQueue := tasks.New()

	loop := workerloop.New(workerloop.Config{
		Slot:         env.slot,
		Region:       reg,
		Lock:         lock,
		Demux:        demux.New(),
		Peer:         endpoint,
		Timers:       timerQueue,
		Tasks:        taskQueue,
		Dispatch:     handler,
		KeymgrActive: true,
		Log:          log,
	})

	ctx := &workerloop.Context{Slot: env.slot, Region: reg, Log: log, Timers: timerQueue, Tasks: taskQueue}
	return loop.Run(ctx)
}

// runKeymgrRole drives the reserved key-manager process: it never runs a
// full worker loop, just a tight poll-respond cycle answering
// ENTROPY_REQ/CERTIFICATE_REQ frames the supervisor routes to it.
func runKeymgrRole(cfg config.Config, reg *region.Region, env workerEnv, endpoint *channel.Endpoint, log zerolog.Logger) error {
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	pool := keymgr.NewPool(seed)
	registry := keymgr.NewRegistry()
	if len(cfg.Domains) > 0 {
		registry.AddServer(cfg.Domains...)
	}
	handler := keymgr.New(registry, pool, log)

	sigCh := armShutdownSignals()
	ticker := time.NewTicker(keymgrPumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info().Msg("keymgr shutting down")
			return endpoint.Close()
		case <-ticker.C:
			f, err := endpoint.TryRecv()
			if err != nil {
				continue
			}
			if f.Kind == control.KindShutdown {
				return endpoint.Close()
			}
			reply, ok := handler.Respond(f)
			if !ok {
				continue
			}
			if err := endpoint.TrySend(reply); err != nil {
				log.Warn().Err(err).Str("kind", reply.Kind.String()).Msg("keymgr reply delivery failed")
			}
		}
	}
}

// runACMERole is a minimal placeholder for the reserved ACME process:
// real challenge/renewal orchestration is out of scope, so it just stays
// alive and drains the control channel until told to quit.
func runACMERole(reg *region.Region, env workerEnv, endpoint *channel.Endpoint, log zerolog.Logger) error {
	sigCh := armShutdownSignals()
	ticker := time.NewTicker(keymgrPumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info().Msg("acme shutting down")
			return endpoint.Close()
		case <-ticker.C:
			f, err := endpoint.TryRecv()
			if err == nil && f.Kind == control.KindShutdown {
				return endpoint.Close()
			}
		}
	}
}
