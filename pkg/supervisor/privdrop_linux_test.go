//go:build linux

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrivDropRequiresRootPath(t *testing.T) {
	p := PrivDrop{SkipRunas: true, SkipChroot: true}
	err := p.Apply()
	assert.Error(t, err)
}

func TestPrivDropRequiresRunasUserUnlessSkipped(t *testing.T) {
	p := PrivDrop{SkipRunas: false, SkipChroot: true, RootPath: "/tmp"}
	err := p.Apply()
	assert.ErrorContains(t, err, "no runas user")
}

func TestPrivDropUnknownUserFails(t *testing.T) {
	p := PrivDrop{SkipRunas: false, SkipChroot: true, RootPath: "/tmp", RunasUser: "no-such-user-fleetd-test"}
	err := p.Apply()
	assert.ErrorContains(t, err, "lookup user")
}

func TestCountOpenFDsIsPositiveForRunningProcess(t *testing.T) {
	assert.Greater(t, countOpenFDs(), uint64(0))
}
