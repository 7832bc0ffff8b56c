package mode

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/opensslconf"
)

const initialConf = `HOME = .
openssl_conf = openssl_init

[openssl_init]
providers = provider_sect
`

// fakeRestarter stands in for systemd. When createArtifact is set it writes
// the module artifact, like the real regeneration unit.
type fakeRestarter struct {
	mu             sync.Mutex
	calls          int
	err            error
	createArtifact bool
	artifactPath   string
	started        chan struct{}
	release        chan struct{}
}

func (f *fakeRestarter) Restart(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	err, create, started, release := f.err, f.createArtifact, f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if create {
		return os.WriteFile(f.artifactPath, []byte("[fips_sect]\nactivate = 1\n"), 0644)
	}
	return nil
}

func (f *fakeRestarter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// noWait skips the poll interval.
type noWait struct{}

func (noWait) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// signalWaiter reports entry into the wait, then blocks like TimerWaiter.
type signalWaiter struct {
	entered chan struct{}
	delay   time.Duration
}

func (w signalWaiter) Wait(ctx context.Context, path string) error {
	close(w.entered)
	return TimerWaiter{Delay: w.delay}.Wait(ctx, path)
}

// faultyFS fails Remove when removeErr is set.
type faultyFS struct {
	OSFileSystem
	removeErr error
}

func (f faultyFS) Remove(path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.OSFileSystem.Remove(path)
}

// faultyEditor wraps the real editor with injectable failures.
type faultyEditor struct {
	*opensslconf.Editor
	mu         sync.Mutex
	reads      int
	readFailAt int // 1-based read number that fails; 0 never
	appendErr  error
}

func (e *faultyEditor) Read() (string, error) {
	e.mu.Lock()
	e.reads++
	fail := e.readFailAt != 0 && e.reads == e.readFailAt
	e.mu.Unlock()
	if fail {
		return "", errors.New("injected read failure")
	}
	return e.Editor.Read()
}

func (e *faultyEditor) AppendBlock() error {
	if e.appendErr != nil {
		return e.appendErr
	}
	return e.Editor.AppendBlock()
}

type harness struct {
	confPath     string
	artifactPath string
	editor       *faultyEditor
	restarter    *fakeRestarter
	fs           *faultyFS
	journal      *history.SQLiteStore
	ctrl         *Controller
	opts         Options
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHarness(t *testing.T, profiles ...string) *harness {
	t.Helper()
	if len(profiles) == 0 {
		profiles = []string{"3.0.9"}
	}
	dir := t.TempDir()
	h := &harness{
		confPath:     filepath.Join(dir, "openssl.cnf"),
		artifactPath: filepath.Join(dir, "fipsmodule.cnf"),
	}
	require.NoError(t, os.WriteFile(h.confPath, []byte(initialConf), 0644))

	journal, err := history.NewSQLiteStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	h.journal = journal
	h.editor = &faultyEditor{Editor: opensslconf.NewEditor(h.confPath, h.artifactPath)}
	h.restarter = &fakeRestarter{createArtifact: true, artifactPath: h.artifactPath}
	h.fs = &faultyFS{}
	h.opts = Options{
		Profiles:     profiles,
		ArtifactPath: h.artifactPath,
		FS:           h.fs,
		Editor:       h.editor,
		Restarter:    h.restarter,
		Waiter:       noWait{},
		Journal:      journal,
		Logger:       quietLogger(),
	}
	h.ctrl, err = NewController(context.Background(), h.opts)
	require.NoError(t, err)
	return h
}

func (h *harness) conf(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.confPath)
	require.NoError(t, err)
	return string(data)
}

func (h *harness) artifactExists(t *testing.T) bool {
	t.Helper()
	_, err := os.Stat(h.artifactPath)
	return err == nil
}

// requireConsistent checks the published status against a fresh derivation.
func (h *harness) requireConsistent(t *testing.T) {
	t.Helper()
	require.Equal(t, h.ctrl.Publisher().Derive(), h.ctrl.Status())
}

func TestNewControllerValidation(t *testing.T) {
	ctx := context.Background()
	editor := opensslconf.NewEditor(filepath.Join(t.TempDir(), "x.cnf"), "")

	_, err := NewController(ctx, Options{Editor: editor, Restarter: &fakeRestarter{}})
	require.Error(t, err, "no profiles")

	_, err = NewController(ctx, Options{Profiles: []string{"3.0.9"}, Restarter: &fakeRestarter{}})
	require.Error(t, err, "no editor")

	_, err = NewController(ctx, Options{Profiles: []string{"3.0.9"}, Editor: editor})
	require.Error(t, err, "no restarter")
}

func TestStartupDisabled(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, Disabled, h.ctrl.Status())
	require.Equal(t, []string{"3.0.9"}, h.ctrl.Providers())
}

func TestEnableDisableScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	require.Equal(t, Status{Enabled: true, Version: "3.0.9"}, h.ctrl.Status())
	require.True(t, h.artifactExists(t))
	require.Equal(t, 1, strings.Count(h.conf(t), opensslconf.StartMarker))
	require.True(t, strings.HasSuffix(h.conf(t), h.editor.Block()))
	h.requireConsistent(t)

	require.NoError(t, h.ctrl.Disable(ctx))
	require.Equal(t, Status{Enabled: false, Version: "na"}, h.ctrl.Status())
	require.False(t, h.artifactExists(t))
	require.Equal(t, initialConf, h.conf(t), "round trip must restore the config byte for byte")
	h.requireConsistent(t)
}

func TestEnableUnsupportedProfile(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.Enable(context.Background(), "9.9.9")
	require.ErrorIs(t, err, ErrUnsupportedProfile)
	require.Equal(t, ClassValidation, Classify(err))
	require.Zero(t, h.restarter.Calls(), "no restart for an invalid profile")
	require.Equal(t, initialConf, h.conf(t))
	require.False(t, h.artifactExists(t))
	require.Equal(t, Disabled, h.ctrl.Status())
}

func TestEnableAlreadyActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	before := h.conf(t)

	err := h.ctrl.Enable(ctx, "3.0.9")
	require.ErrorIs(t, err, ErrAlreadyActive)
	require.Equal(t, 1, h.restarter.Calls())
	require.Equal(t, before, h.conf(t))
}

func TestDisableWhenDisabled(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.Disable(context.Background())
	require.ErrorIs(t, err, ErrAlreadyDisabled)
	require.Equal(t, initialConf, h.conf(t))
	require.False(t, h.artifactExists(t))
}

func TestDisableWithStrayArtifactIsAlreadyDisabled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.artifactPath, []byte("stray"), 0644))
	h.ctrl.Refresh()

	err := h.ctrl.Disable(context.Background())
	require.ErrorIs(t, err, ErrAlreadyDisabled)
	require.True(t, h.artifactExists(t), "disable must not touch files when already disabled")
}

func TestEnableRestartFailure(t *testing.T) {
	h := newHarness(t)
	h.restarter.err = errors.New("Job for unit failed")

	err := h.ctrl.Enable(context.Background(), "3.0.9")
	require.ErrorIs(t, err, ErrRestartFailed)
	require.Equal(t, ClassDependency, Classify(err))
	require.Equal(t, initialConf, h.conf(t))
	require.Equal(t, Disabled, h.ctrl.Status())
}

func TestEnableArtifactMissingAfterWait(t *testing.T) {
	h := newHarness(t)
	h.restarter.createArtifact = false
	h.opts.Waiter = TimerWaiter{Delay: 10 * time.Millisecond}
	ctrl, err := NewController(context.Background(), h.opts)
	require.NoError(t, err)

	err = ctrl.Enable(context.Background(), "3.0.9")
	require.ErrorIs(t, err, ErrArtifactMissing)
	require.Equal(t, ClassTiming, Classify(err))
	require.Equal(t, initialConf, h.conf(t), "config must be unmodified on timeout")
	require.Equal(t, Disabled, ctrl.Status())
}

func TestEnableCancelledDuringWait(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	h.opts.Waiter = signalWaiter{entered: entered, delay: time.Hour}
	ctrl, err := NewController(context.Background(), h.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Enable(ctx, "3.0.9") }()

	<-entered
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, ClassCancelled, Classify(err))
	case <-time.After(5 * time.Second):
		t.Fatal("enable did not return after cancellation")
	}
	require.Equal(t, initialConf, h.conf(t), "marker must not be applied after cancellation")
	require.Equal(t, Disabled, ctrl.Status())
}

func TestEnableAppendFailure(t *testing.T) {
	h := newHarness(t)
	h.editor.appendErr = errors.New("disk full")

	err := h.ctrl.Enable(context.Background(), "3.0.9")
	require.ErrorIs(t, err, ErrIO)
	require.Equal(t, ClassIO, Classify(err))
	require.Equal(t, initialConf, h.conf(t))
	require.Equal(t, Disabled, h.ctrl.Status())
	h.requireConsistent(t)
}

func TestDisableReadFailureLeavesFileUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	enabled := h.conf(t)

	// Disable reads twice: once to derive the current status, once to edit.
	h.editor.mu.Lock()
	h.editor.readFailAt = h.editor.reads + 2
	h.editor.mu.Unlock()

	err := h.ctrl.Disable(ctx)
	require.ErrorIs(t, err, ErrIO)
	require.Equal(t, enabled, h.conf(t))
	require.True(t, h.artifactExists(t))
	require.Equal(t, Status{Enabled: true, Version: "3.0.9"}, h.ctrl.Status())
}

func TestDisableArtifactRemovalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))

	h.fs.removeErr = errors.New("read-only file system")
	err := h.ctrl.Disable(ctx)
	require.ErrorIs(t, err, ErrInconsistent)
	require.Equal(t, ClassConsistency, Classify(err))

	require.Equal(t, initialConf, h.conf(t), "config stays disabled, no rollback")
	require.True(t, h.artifactExists(t), "stray artifact remains")
	require.Equal(t, Disabled, h.ctrl.Status(), "artifact without marker derives as disabled")
	h.requireConsistent(t)

	// A later enable can proceed from the derived Disabled state.
	h.fs.removeErr = nil
	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	require.Equal(t, 1, strings.Count(h.conf(t), opensslconf.StartMarker))
}

func TestConcurrentEnableIsRejected(t *testing.T) {
	h := newHarness(t, "3.0.9", "3.1.0")
	h.restarter.started = make(chan struct{}, 1)
	h.restarter.release = make(chan struct{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Enable(ctx, "3.0.9") }()
	<-h.restarter.started

	err := h.ctrl.Enable(ctx, "3.1.0")
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, ClassBusy, Classify(err))
	require.ErrorIs(t, h.ctrl.Disable(ctx), ErrBusy)

	close(h.restarter.release)
	require.NoError(t, <-errCh)

	conf := h.conf(t)
	require.Equal(t, 1, strings.Count(conf, opensslconf.StartMarker))
	require.Equal(t, 1, strings.Count(conf, opensslconf.EndMarker))
	require.Equal(t, Status{Enabled: true, Version: "3.0.9"}, h.ctrl.Status())
	require.Equal(t, 1, h.restarter.Calls())
}

func TestEnableSwitchesProfile(t *testing.T) {
	h := newHarness(t, "3.0.9", "3.1.0")
	ctx := context.Background()

	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	require.NoError(t, h.ctrl.Enable(ctx, "3.1.0"))

	require.Equal(t, Status{Enabled: true, Version: "3.1.0"}, h.ctrl.Status())
	require.Equal(t, 1, strings.Count(h.conf(t), opensslconf.StartMarker))
	h.requireConsistent(t)

	require.NoError(t, h.ctrl.Disable(ctx))
	require.Equal(t, initialConf, h.conf(t))
}

func TestEnableReplacesBlockForOtherArtifact(t *testing.T) {
	h := newHarness(t)
	foreign := initialConf + opensslconf.BlockFor("/etc/ssl/old-fipsmodule.cnf")
	require.NoError(t, os.WriteFile(h.confPath, []byte(foreign), 0644))
	require.NoError(t, os.WriteFile(h.artifactPath, []byte("stale"), 0644))
	require.Equal(t, Disabled, h.ctrl.Refresh(), "a block for another artifact does not count as enabled")

	require.NoError(t, h.ctrl.Enable(context.Background(), "3.0.9"))

	conf := h.conf(t)
	require.Equal(t, 1, strings.Count(conf, opensslconf.StartMarker))
	require.Equal(t, 1, strings.Count(conf, opensslconf.EndMarker))
	require.Equal(t, initialConf+h.editor.Block(), conf)
	require.NotContains(t, conf, "old-fipsmodule.cnf")
	require.Equal(t, Status{Enabled: true, Version: "3.0.9"}, h.ctrl.Status())
	h.requireConsistent(t)

	require.NoError(t, h.ctrl.Disable(context.Background()))
	require.Equal(t, initialConf, h.conf(t))
}

func TestEnableReadFailureLeavesFileUntouched(t *testing.T) {
	h := newHarness(t)
	// The artifact is absent before the restart, so the first read is the
	// one that places the block.
	h.editor.mu.Lock()
	h.editor.readFailAt = h.editor.reads + 1
	h.editor.mu.Unlock()

	err := h.ctrl.Enable(context.Background(), "3.0.9")
	require.ErrorIs(t, err, ErrIO)
	require.Equal(t, initialConf, h.conf(t))
	require.Equal(t, Disabled, h.ctrl.Status())
}

func TestActiveProfileSurvivesRestart(t *testing.T) {
	h := newHarness(t, "3.0.9", "3.1.0")
	require.NoError(t, h.ctrl.Enable(context.Background(), "3.1.0"))

	ctrl, err := NewController(context.Background(), h.opts)
	require.NoError(t, err)
	require.Equal(t, Status{Enabled: true, Version: "3.1.0"}, ctrl.Status())
}

func TestJournalRecordsAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Error(t, h.ctrl.Enable(ctx, "9.9.9"))
	require.NoError(t, h.ctrl.Enable(ctx, "3.0.9"))
	require.NoError(t, h.ctrl.Disable(ctx))

	entries, err := h.journal.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	require.Equal(t, history.OpDisable, entries[0].Operation)
	require.True(t, entries[0].Success)
	require.Equal(t, history.OpEnable, entries[1].Operation)
	require.Equal(t, "3.0.9", entries[1].Profile)
	require.True(t, entries[1].Success)
	require.False(t, entries[2].Success)
	require.Equal(t, ClassValidation, entries[2].Class)
	require.Contains(t, entries[2].Message, "9.9.9")

	active, err := h.journal.ActiveProfile(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestControllerWithoutJournal(t *testing.T) {
	h := newHarness(t)
	h.opts.Journal = nil
	ctrl, err := NewController(context.Background(), h.opts)
	require.NoError(t, err)

	require.NoError(t, ctrl.Enable(context.Background(), "3.0.9"))
	require.Equal(t, "3.0.9", ctrl.Status().Version)
	require.NoError(t, ctrl.Disable(context.Background()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnsupportedProfile, ClassValidation},
		{ErrAlreadyActive, ClassValidation},
		{ErrAlreadyDisabled, ClassValidation},
		{ErrRestartFailed, ClassDependency},
		{ErrArtifactMissing, ClassTiming},
		{ErrIO, ClassIO},
		{ErrInconsistent, ClassConsistency},
		{ErrBusy, ClassBusy},
		{ErrCancelled, ClassCancelled},
		{context.Canceled, ClassCancelled},
		{errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
}
