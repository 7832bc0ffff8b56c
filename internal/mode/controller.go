// Package mode implements the FIPS mode-transition state machine.
//
// A Controller validates a requested profile, asks the regeneration service
// to produce the module artifact, waits a bounded and cancellable interval
// for it, patches the shared OpenSSL config and republishes the status
// derived from disk. Transitions are mutually exclusive: a request that
// arrives while another is in flight is rejected with ErrBusy.
//
// Mode state is never stored on its own. Enabled means the artifact exists
// and the shared config carries the complete marker block; anything else is
// Disabled.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"golang.org/x/sync/semaphore"

	"github.com/cloudflared-fips/fips-installer/internal/gateway"
	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/opensslconf"
)

// Options configures a Controller. Editor and Restarter are required.
type Options struct {
	Profiles     []string
	ArtifactPath string
	FS           FileSystem
	Editor       ConfigEditor
	Restarter    gateway.Restarter
	Waiter       Waiter
	Journal      Journal
	Logger       *log.Logger
}

// Controller is the only component that mutates the shared config and the
// module artifact.
type Controller struct {
	profiles     []string
	artifactPath string
	fs           FileSystem
	editor       ConfigEditor
	restarter    gateway.Restarter
	waiter       Waiter
	journal      Journal
	logger       *log.Logger

	pub *Publisher
	sem *semaphore.Weighted
}

// NewController validates opts, fills defaults and derives the startup
// status from disk.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if len(opts.Profiles) == 0 {
		return nil, errors.New("mode: at least one supported profile is required")
	}
	if opts.Editor == nil {
		return nil, errors.New("mode: config editor is required")
	}
	if opts.Restarter == nil {
		return nil, errors.New("mode: restarter is required")
	}
	if opts.ArtifactPath == "" {
		opts.ArtifactPath = opensslconf.DefaultArtifactPath
	}
	if opts.FS == nil {
		opts.FS = OSFileSystem{}
	}
	if opts.Waiter == nil {
		opts.Waiter = TimerWaiter{Delay: DefaultPollInterval}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	c := &Controller{
		profiles:     slices.Clone(opts.Profiles),
		artifactPath: opts.ArtifactPath,
		fs:           opts.FS,
		editor:       opts.Editor,
		restarter:    opts.Restarter,
		waiter:       opts.Waiter,
		journal:      opts.Journal,
		logger:       opts.Logger,
		sem:          semaphore.NewWeighted(1),
	}
	c.pub = NewPublisher(PublisherConfig{
		FS:           c.fs,
		Editor:       c.editor,
		ArtifactPath: c.artifactPath,
		Profiles:     c.profiles,
		Journal:      c.journal,
		Logger:       c.logger,
	})

	s := c.pub.Load(ctx)
	c.logger.Printf("mode: startup status enabled=%t version=%s", s.Enabled, s.Version)
	return c, nil
}

// Publisher returns the status publisher backing this controller.
func (c *Controller) Publisher() *Publisher {
	return c.pub
}

// Status returns the last published status.
func (c *Controller) Status() Status {
	return c.pub.Status()
}

// Providers returns the supported profiles.
func (c *Controller) Providers() []string {
	return c.pub.Providers()
}

// Subscribe streams status changes; see Publisher.Subscribe.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	return c.pub.Subscribe()
}

// Refresh re-derives the status from disk and publishes it.
func (c *Controller) Refresh() Status {
	return c.pub.Refresh()
}

// Supported reports whether profile is in the supported set.
func (c *Controller) Supported(profile string) bool {
	return slices.Contains(c.profiles, profile)
}

// Enable activates FIPS mode with profile.
//
// Validation failures have no side effects. Once the restart has been
// requested, a failure leaves the shared config untouched: the marker block
// is written last, in one call. A config that already carries a block,
// active or not, is rewritten with that block replaced.
func (c *Controller) Enable(ctx context.Context, profile string) (err error) {
	if !c.sem.TryAcquire(1) {
		err = ErrBusy
		c.record(ctx, history.OpEnable, profile, err)
		return err
	}
	defer c.sem.Release(1)
	defer func() { c.record(ctx, history.OpEnable, profile, err) }()

	c.logger.Printf("mode: enable requested for profile %q", profile)

	if !c.Supported(profile) {
		return fmt.Errorf("%w: %q", ErrUnsupportedProfile, profile)
	}
	current := c.pub.Refresh()
	if current.Enabled && current.Version == profile {
		return fmt.Errorf("%w: %q", ErrAlreadyActive, profile)
	}

	if err := c.restarter.Restart(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return fmt.Errorf("%w: %w", ErrRestartFailed, err)
	}

	if err := c.waiter.Wait(ctx, c.artifactPath); err != nil {
		return fmt.Errorf("%w: waiting for %s: %w", ErrCancelled, c.artifactPath, err)
	}

	exists, err := c.fs.Exists(c.artifactPath)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrIO, c.artifactPath, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, c.artifactPath)
	}

	if err := c.writeBlock(); err != nil {
		c.pub.Refresh()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	c.pub.Record(ctx, profile)
	s := c.pub.Refresh()
	if !s.Enabled {
		return fmt.Errorf("%w: marker block written but status derives as disabled", ErrInconsistent)
	}
	return nil
}

// writeBlock leaves exactly one marker block at the end of the config.
// Any existing block is replaced whatever artifact it includes, so a block
// left by an older module-config path is not duplicated.
func (c *Controller) writeBlock() error {
	content, err := c.editor.Read()
	if err != nil {
		return err
	}
	if rest, found := opensslconf.StripBlock(content); found {
		return c.editor.Replace(rest + c.editor.Block())
	}
	return c.editor.AppendBlock()
}

// Disable removes the marker block and the module artifact.
//
// The config is rewritten before the artifact is deleted and the rewrite is
// not rolled back. If the delete fails, ErrInconsistent is returned and the
// status derives as Disabled with a stray artifact left on disk.
func (c *Controller) Disable(ctx context.Context) (err error) {
	if !c.sem.TryAcquire(1) {
		err = ErrBusy
		c.record(ctx, history.OpDisable, "", err)
		return err
	}
	defer c.sem.Release(1)
	defer func() { c.record(ctx, history.OpDisable, "", err) }()

	c.logger.Printf("mode: disable requested")

	current := c.pub.Refresh()
	if !current.Enabled {
		return ErrAlreadyDisabled
	}

	content, err := c.editor.Read()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	rest, _ := opensslconf.StripBlock(content)

	if err := c.editor.Replace(rest); err != nil {
		c.pub.Refresh()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	c.pub.Record(ctx, "")

	if err := c.fs.Remove(c.artifactPath); err != nil {
		c.pub.Refresh()
		return fmt.Errorf("%w: config disabled but %s not removed: %w", ErrInconsistent, c.artifactPath, err)
	}

	c.pub.Refresh()
	return nil
}

func (c *Controller) record(ctx context.Context, op history.Operation, profile string, err error) {
	if err != nil {
		c.logger.Printf("mode: %s failed: %v", op, err)
	} else {
		c.logger.Printf("mode: %s succeeded", op)
	}
	if c.journal == nil {
		return
	}

	e := &history.Entry{
		Operation: op,
		Profile:   profile,
		Success:   err == nil,
		Class:     Classify(err),
	}
	if err != nil {
		e.Message = err.Error()
	}
	// The request context may already be cancelled; the journal write must
	// still happen.
	if jerr := c.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		c.logger.Printf("mode: journal %s: %v", op, jerr)
	}
}
