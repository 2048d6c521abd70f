package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/fleetd/pkg/channel"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/region"
	"github.com/cuemby/fleetd/pkg/supervisor"
	"github.com/spf13/cobra"
)

// regionFD and controlFD are the fixed positions exec.Cmd.ExtraFiles
// lands at in the spawned child's descriptor table: stdio occupies 0-2,
// so ExtraFiles[0] is fd 3 and ExtraFiles[1] is fd 4.
const (
	regionFD  = 3
	controlFD = 4
)

var internalWorkerCmd = &cobra.Command{
	Use:    "internal-worker",
	Short:  "Run as a spawned worker process (not invoked directly)",
	Hidden: true,
	RunE:   runInternalWorker,
}

type workerEnv struct {
	slot     int
	role     int32
	cpu      int32
	numSlots int
	spawnID  string
}

func readWorkerEnv() (workerEnv, error) {
	var e workerEnv
	var err error
	if e.slot, err = envInt("FLEETD_SLOT"); err != nil {
		return e, err
	}
	role, err := envInt("FLEETD_ROLE")
	if err != nil {
		return e, err
	}
	e.role = int32(role)
	cpu, err := envInt("FLEETD_CPU")
	if err != nil {
		return e, err
	}
	e.cpu = int32(cpu)
	if e.numSlots, err = envInt("FLEETD_NUM_SLOTS"); err != nil {
		return e, err
	}
	e.spawnID = os.Getenv("FLEETD_SPAWN_ID")
	return e, nil
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env %s=%q: %w", name, v, err)
	}
	return n, nil
}

func runInternalWorker(cmd *cobra.Command, args []string) error {
	env, err := readWorkerEnv()
	if err != nil {
		return fmt.Errorf("internal-worker: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("internal-worker: load config: %w", err)
	}

	reg, err := region.Attach(regionFD, env.numSlots)
	if err != nil {
		return fmt.Errorf("internal-worker: attach region: %w", err)
	}

	conn, err := channel.FromFD(controlFD)
	if err != nil {
		return fmt.Errorf("internal-worker: attach control channel: %w", err)
	}
	endpoint := channel.NewEndpoint(conn)

	drop := supervisor.PrivDrop{
		SkipRunas:     cfg.SkipRunas,
		SkipChroot:    cfg.SkipChroot,
		RunasUser:     cfg.RunasUser,
		RootPath:      cfg.RootPath,
		RlimitNofiles: cfg.WorkerRlimitNofiles,
	}
	if err := drop.Apply(); err != nil {
		return fmt.Errorf("internal-worker: privilege drop: %w", err)
	}

	roleLogger := log.WithWorker(env.slot, roleName(env.role)).With().Str("spawn_id", env.spawnID).Logger()

	switch env.role {
	case region.RoleKeymgr:
		return runKeymgrRole(cfg, reg, env, endpoint, roleLogger)
	case region.RoleACME:
		return runACMERole(reg, env, endpoint, roleLogger)
	default:
		return runGeneralRole(cfg, reg, env, endpoint, roleLogger)
	}
}

func roleName(role int32) string {
	switch role {
	case region.RoleKeymgr:
		return "KEYMGR"
	case region.RoleACME:
		return "ACME"
	default:
		return "GENERAL"
	}
}
