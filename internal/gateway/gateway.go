// Package gateway asks the host service manager to regenerate the FIPS
// module artifact.
//
// The artifact is produced as a side effect of restarting a dedicated
// systemd unit, requested over the system D-Bus. The gateway reports whether
// the restart job completed; waiting for the artifact to appear is the
// caller's job.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DefaultUnit is the systemd unit that writes the module artifact.
const DefaultUnit = "com.intel.FipsConfigInstaller.service"

// DefaultJobMode replaces any queued job for the unit.
const DefaultJobMode = "replace"

// JobModes lists the modes systemd accepts for RestartUnit.
var JobModes = []string{"replace", "fail", "isolate", "ignore-dependencies", "ignore-requirements"}

// ErrJobFailed is returned when the restart job ends with a result other
// than "done".
var ErrJobFailed = errors.New("restart job did not complete")

// Restarter triggers regeneration of the module artifact.
type Restarter interface {
	Restart(ctx context.Context) error
}

// UnitManager is the part of the systemd manager API the gateway uses.
// *dbus.Conn satisfies it.
type UnitManager interface {
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Dialer opens a connection to the service manager.
type Dialer func(ctx context.Context) (UnitManager, error)

// SystemBus dials systemd on the system D-Bus.
func SystemBus(ctx context.Context) (UnitManager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Systemd restarts a unit through the systemd D-Bus API. One connection is
// opened per restart; the daemon restarts rarely and systemd may have been
// re-executed in between.
type Systemd struct {
	unit    string
	jobMode string
	dial    Dialer
	logger  *log.Logger
}

// NewSystemd creates a gateway for unit. Empty unit and jobMode select
// DefaultUnit and DefaultJobMode; a nil dial selects SystemBus.
func NewSystemd(unit, jobMode string, dial Dialer, logger *log.Logger) *Systemd {
	if unit == "" {
		unit = DefaultUnit
	}
	if jobMode == "" {
		jobMode = DefaultJobMode
	}
	if dial == nil {
		dial = SystemBus
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Systemd{unit: unit, jobMode: jobMode, dial: dial, logger: logger}
}

// Unit returns the managed unit name.
func (s *Systemd) Unit() string {
	return s.unit
}

// Restart queues a restart job for the unit and waits for its result.
func (s *Systemd) Restart(ctx context.Context) error {
	s.logger.Printf("gateway: restarting %s (mode %s)", s.unit, s.jobMode)

	conn, err := s.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("connect to systemd: %w", ctx.Err())
		}
		return fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	jobID, err := conn.RestartUnitContext(ctx, s.unit, s.jobMode, done)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("restart %s: %w", s.unit, ctx.Err())
		}
		return fmt.Errorf("restart %s: %w", s.unit, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("restart %s: job %d: %w", s.unit, jobID, ctx.Err())
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%w: %s job %d result %q", ErrJobFailed, s.unit, jobID, result)
		}
	}

	s.logger.Printf("gateway: %s restarted (job %d)", s.unit, jobID)
	return nil
}
