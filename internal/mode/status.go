package mode

import (
	"context"
	"log"
	"slices"
	"sync"

	"github.com/cloudflared-fips/fips-installer/internal/history"
)

// VersionNone is the Version reported while FIPS mode is disabled.
const VersionNone = "na"

// Status is the externally visible mode state.
type Status struct {
	Enabled bool   `json:"enabled"`
	Version string `json:"version"`
}

// Disabled is the status of a host with no active FIPS profile.
var Disabled = Status{Enabled: false, Version: VersionNone}

// Journal persists transition attempts and the last enabled profile.
// history.SQLiteStore is the production implementation.
type Journal interface {
	Record(ctx context.Context, e *history.Entry) error
	ActiveProfile(ctx context.Context) (string, error)
	SetActiveProfile(ctx context.Context, profile string) error
}

// PublisherConfig holds the collaborators the publisher derives status from.
type PublisherConfig struct {
	FS           FileSystem
	Editor       ConfigEditor
	ArtifactPath string
	Profiles     []string
	Journal      Journal // optional
	Logger       *log.Logger
}

// Publisher derives mode status from the files on disk and fans changes out
// to subscribers. It never trusts a cached status across a transition: every
// Refresh re-reads the artifact and the shared config.
type Publisher struct {
	fs           FileSystem
	editor       ConfigEditor
	artifactPath string
	profiles     []string
	journal      Journal
	logger       *log.Logger

	mu       sync.RWMutex
	status   Status
	recorded string // profile named by the last successful enable
	subs     map[int]chan Status
	nextSub  int
}

// NewPublisher creates a publisher. The initial status is Disabled until
// Load or Refresh runs.
func NewPublisher(cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		fs:           cfg.FS,
		editor:       cfg.Editor,
		artifactPath: cfg.ArtifactPath,
		profiles:     slices.Clone(cfg.Profiles),
		journal:      cfg.Journal,
		logger:       logger,
		status:       Disabled,
		subs:         make(map[int]chan Status),
	}
}

// Load seeds the recorded profile from the journal and publishes the
// derived startup status.
func (p *Publisher) Load(ctx context.Context) Status {
	if p.journal != nil {
		profile, err := p.journal.ActiveProfile(ctx)
		if err != nil {
			p.logger.Printf("mode: read active profile from journal: %v", err)
		} else {
			p.mu.Lock()
			p.recorded = profile
			p.mu.Unlock()
		}
	}
	return p.Refresh()
}

// Derive computes the status from disk without publishing it.
//
// Enabled requires both the module artifact and the complete marker block.
// The reported version is the recorded profile when it is supported and the
// first supported profile otherwise.
func (p *Publisher) Derive() Status {
	exists, err := p.fs.Exists(p.artifactPath)
	if err != nil {
		p.logger.Printf("mode: stat %s: %v", p.artifactPath, err)
		return Disabled
	}
	if !exists {
		return Disabled
	}

	content, err := p.editor.Read()
	if err != nil {
		p.logger.Printf("mode: %v", err)
		return Disabled
	}
	if !p.editor.HasBlock(content) {
		return Disabled
	}

	p.mu.RLock()
	recorded := p.recorded
	p.mu.RUnlock()

	version := p.profiles[0]
	if slices.Contains(p.profiles, recorded) {
		version = recorded
	}
	return Status{Enabled: true, Version: version}
}

// Refresh derives the status from disk and publishes it.
func (p *Publisher) Refresh() Status {
	s := p.Derive()
	p.publish(s)
	return s
}

// Record remembers profile as the one last enabled ("" clears it) and
// persists it to the journal. Journal failures are logged; the in-memory
// record still applies.
func (p *Publisher) Record(ctx context.Context, profile string) {
	p.mu.Lock()
	p.recorded = profile
	p.mu.Unlock()

	if p.journal == nil {
		return
	}
	if err := p.journal.SetActiveProfile(context.WithoutCancel(ctx), profile); err != nil {
		p.logger.Printf("mode: persist active profile %q: %v", profile, err)
	}
}

// Status returns the last published status.
func (p *Publisher) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Providers returns the supported profiles in configured order.
func (p *Publisher) Providers() []string {
	return slices.Clone(p.profiles)
}

// Subscribe returns a channel that receives the current status immediately
// and every subsequent change. Slow subscribers only see the latest value.
// Call the returned function to unsubscribe.
func (p *Publisher) Subscribe() (<-chan Status, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Status, 1)
	ch <- p.status
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Publisher) publish(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s == p.status {
		return
	}
	p.logger.Printf("mode: status changed enabled=%t version=%s", s.Enabled, s.Version)
	p.status = s

	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale value; only publish sends, under p.mu.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
