// Package opensslconf edits the shared OpenSSL configuration file.
//
// The file is treated as opaque text plus at most one FIPS marker block,
// which is always the final segment of the file. Blocks are matched by
// substring search, never by parsing the OpenSSL config grammar. Every write
// is a single call carrying either the complete block (append) or the
// complete remaining content (truncate), so the file never holds half a block.
package opensslconf

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Default host paths.
const (
	DefaultConfigPath   = "/etc/ssl/openssl.cnf"
	DefaultArtifactPath = "/etc/ssl/fipsmodule.cnf"
)

// Marker lines delimiting the FIPS block.
const (
	StartMarker = "#FIPS_CONFIG_START"
	EndMarker   = "#FIPS_CONFIG_END"
)

// BlockFor returns the marker block that includes the given module artifact.
// The text must stay byte-identical across releases or hosts enabled by an
// older build will read as disabled.
func BlockFor(artifactPath string) string {
	return StartMarker + `
.include ` + artifactPath + `
[openssl_init]
alg_section = algorithm_sect
[provider_sect]
fips = fips_sect
base = base_sect
[base_sect]
activate = 1
[algorithm_sect]
default_properties = fips = yes
` + EndMarker
}

// MarkerBlock is the block for the default artifact path.
var MarkerBlock = BlockFor(DefaultArtifactPath)

// WriteMode selects how Write opens the file.
type WriteMode int

const (
	// Append adds content after the existing file contents.
	Append WriteMode = iota
	// Truncate replaces the whole file with content.
	Truncate
)

func (m WriteMode) String() string {
	switch m {
	case Append:
		return "append"
	case Truncate:
		return "truncate"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// Editor reads and writes one OpenSSL configuration file.
type Editor struct {
	path  string
	block string
}

// NewEditor returns an Editor for configPath whose marker block includes
// artifactPath. Empty arguments select the default host paths.
func NewEditor(configPath, artifactPath string) *Editor {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	if artifactPath == "" {
		artifactPath = DefaultArtifactPath
	}
	return &Editor{path: configPath, block: BlockFor(artifactPath)}
}

// Path returns the file this editor operates on.
func (e *Editor) Path() string {
	return e.path
}

// Read returns the file contents with trailing whitespace removed.
func (e *Editor) Read() (string, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", e.path, err)
	}
	defer f.Close()

	unlock, err := lockShared(f)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", e.path, err)
	}
	defer unlock()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", e.path, err)
	}
	return strings.TrimRightFunc(string(data), unicode.IsSpace), nil
}

// Write stores content using the given mode in a single write call.
// The file must already exist; the editor never creates it.
func (e *Editor) Write(content string, mode WriteMode) error {
	flags := os.O_WRONLY
	switch mode {
	case Append:
		flags |= os.O_APPEND
	case Truncate:
	default:
		return fmt.Errorf("write %s: unknown mode %s", e.path, mode)
	}

	f, err := os.OpenFile(e.path, flags, 0)
	if err != nil {
		return fmt.Errorf("open %s for %s: %w", e.path, mode, err)
	}

	unlock, err := lockExclusive(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("lock %s: %w", e.path, err)
	}

	// Truncate only after the lock is held so a concurrent reader never
	// observes an empty file mid-rewrite.
	if mode == Truncate {
		if err := f.Truncate(0); err != nil {
			unlock()
			f.Close()
			return fmt.Errorf("truncate %s: %w", e.path, err)
		}
	}

	_, werr := f.WriteString(content)
	unlock()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", e.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", e.path, cerr)
	}
	return nil
}

// Block returns the marker block this editor appends.
func (e *Editor) Block() string {
	return e.block
}

// AppendBlock appends the marker block to the file.
func (e *Editor) AppendBlock() error {
	return e.Write(e.block, Append)
}

// Replace rewrites the whole file with content.
func (e *Editor) Replace(content string) error {
	return e.Write(content, Truncate)
}

// HasBlock reports whether content contains this editor's complete block.
func (e *Editor) HasBlock(content string) bool {
	return strings.Contains(content, e.block)
}

// StripBlock removes everything from the start marker to the end of content.
// Content without a start marker is returned unchanged.
func StripBlock(content string) (string, bool) {
	idx := strings.Index(content, StartMarker)
	if idx < 0 {
		return content, false
	}
	return content[:idx], true
}
