//go:build linux

package supervisor

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// PrivDrop carries the configuration for one worker's privilege-drop
// sequence, run once in the post-fork prelude before the main loop
// starts.
type PrivDrop struct {
	SkipRunas  bool
	SkipChroot bool
	RunasUser  string
	RootPath   string
	// RlimitNofiles is the configured target; it is auto-adjusted upward
	// by the count of descriptors already open at drop time.
	RlimitNofiles uint64
	// SandboxHook runs last, after privileges are dropped. Nil is fine;
	// absence is not an error.
	SandboxHook func() error
}

// Apply runs the drop sequence: resolve the runas user (must happen
// before chroot), chroot or chdir, raise RLIMIT_NOFILE, drop groups and
// setresgid/setresuid, then the sandbox hook. A failure at any required
// step is fatal to the caller.
func (p PrivDrop) Apply() error {
	if p.RootPath == "" {
		return fmt.Errorf("privdrop: no root directory configured")
	}

	var u *user.User
	if !p.SkipRunas {
		if p.RunasUser == "" {
			return fmt.Errorf("privdrop: no runas user given and skip_runas is false")
		}
		var err error
		u, err = user.Lookup(p.RunasUser)
		if err != nil {
			return fmt.Errorf("privdrop: lookup user %q: %w", p.RunasUser, err)
		}
	}

	if !p.SkipChroot {
		if err := unix.Chroot(p.RootPath); err != nil {
			return fmt.Errorf("privdrop: chroot(%q): %w", p.RootPath, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("privdrop: chdir(\"/\"): %w", err)
		}
	} else {
		if err := os.Chdir(p.RootPath); err != nil {
			return fmt.Errorf("privdrop: chdir(%q): %w", p.RootPath, err)
		}
	}

	target := p.RlimitNofiles + countOpenFDs()
	rlim := unix.Rlimit{Cur: target, Max: target}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return fmt.Errorf("privdrop: setrlimit(RLIMIT_NOFILE, %d): %w", target, err)
	}

	if !p.SkipRunas {
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("privdrop: parse uid %q: %w", u.Uid, err)
		}
		gid, err := strconv.Atoi(u.Gid)
		if err != nil {
			return fmt.Errorf("privdrop: parse gid %q: %w", u.Gid, err)
		}
		if err := unix.Setgroups([]int{gid}); err != nil {
			return fmt.Errorf("privdrop: setgroups: %w", err)
		}
		if err := unix.Setresgid(gid, gid, gid); err != nil {
			return fmt.Errorf("privdrop: setresgid: %w", err)
		}
		if err := unix.Setresuid(uid, uid, uid); err != nil {
			return fmt.Errorf("privdrop: setresuid: %w", err)
		}
	}

	if p.SandboxHook != nil {
		if err := p.SandboxHook(); err != nil {
			return fmt.Errorf("privdrop: sandbox hook: %w", err)
		}
	}
	return nil
}

// countOpenFDs counts the descriptors already open in this process, so
// the configured nofile target is raised by that many — matching the
// original worker's "count what fcntl(F_GETFD) can see, then add that to
// the configured target" behavior.
func countOpenFDs() uint64 {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0
	}
	var n uint64
	for range entries {
		n++
	}
	return n
}
