package opensslconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseConf = `openssl_conf = openssl_init

[openssl_init]
providers = provider_sect
`

func tempConf(t *testing.T, content string) (*Editor, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "openssl.cnf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return NewEditor(path, filepath.Join(dir, "fipsmodule.cnf")), path
}

func TestNewEditorDefaults(t *testing.T) {
	e := NewEditor("", "")
	if e.Path() != DefaultConfigPath {
		t.Errorf("Path() = %q, want %q", e.Path(), DefaultConfigPath)
	}
	if e.Block() != MarkerBlock {
		t.Error("default editor should use MarkerBlock")
	}
}

func TestMarkerBlockShape(t *testing.T) {
	if !strings.HasPrefix(MarkerBlock, StartMarker+"\n") {
		t.Error("block must begin with the start marker line")
	}
	if !strings.HasSuffix(MarkerBlock, "\n"+EndMarker) {
		t.Error("block must end with the end marker, no trailing newline")
	}
	if !strings.Contains(MarkerBlock, ".include "+DefaultArtifactPath+"\n") {
		t.Error("block must include the module artifact")
	}
	if strings.Count(MarkerBlock, StartMarker) != 1 {
		t.Error("start marker must appear exactly once")
	}
}

func TestReadTrimsTrailingWhitespace(t *testing.T) {
	e, _ := tempConf(t, "a = b\n\n  \t\n")
	got, err := e.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "a = b" {
		t.Errorf("Read() = %q, want %q", got, "a = b")
	}
}

func TestReadMissingFile(t *testing.T) {
	e := NewEditor(filepath.Join(t.TempDir(), "missing.cnf"), "")
	if _, err := e.Read(); err == nil {
		t.Fatal("expected error reading missing file")
	}
}

func TestWriteDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.cnf")
	e := NewEditor(path, "")
	if err := e.Write("x", Append); err == nil {
		t.Fatal("expected error appending to missing file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Write must not create the config file")
	}
}

func TestWriteUnknownMode(t *testing.T) {
	e, _ := tempConf(t, baseConf)
	if err := e.Write("x", WriteMode(7)); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestAppendThenStripRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"trailing newline", baseConf},
		{"no trailing newline", strings.TrimSuffix(baseConf, "\n")},
		{"blank lines at end", baseConf + "\n\n"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, path := tempConf(t, tt.content)

			if err := e.AppendBlock(); err != nil {
				t.Fatalf("AppendBlock: %v", err)
			}
			enabled, err := e.Read()
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !e.HasBlock(enabled) {
				t.Fatal("block not found after append")
			}

			rest, found := StripBlock(enabled)
			if !found {
				t.Fatal("StripBlock did not find start marker")
			}
			if err := e.Write(rest, Truncate); err != nil {
				t.Fatalf("Write truncate: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.content {
				t.Errorf("round trip mismatch:\n got %q\nwant %q", data, tt.content)
			}
		})
	}
}

func TestStripBlockWithoutMarker(t *testing.T) {
	got, found := StripBlock(baseConf)
	if found {
		t.Error("expected found=false")
	}
	if got != baseConf {
		t.Error("content without marker must be returned unchanged")
	}
}

func TestHasBlockRequiresWholeBlock(t *testing.T) {
	e := NewEditor("", "")
	partial := baseConf + StartMarker + "\n.include " + DefaultArtifactPath
	if e.HasBlock(partial) {
		t.Error("partial block must not count as present")
	}
	if !e.HasBlock(baseConf + MarkerBlock) {
		t.Error("complete block must be detected")
	}
}

func TestHasBlockArtifactPathSpecific(t *testing.T) {
	e := NewEditor("", "/tmp/other.cnf")
	if e.HasBlock(baseConf + MarkerBlock) {
		t.Error("block for a different artifact path must not match")
	}
}

func TestWriteModeString(t *testing.T) {
	if Append.String() != "append" || Truncate.String() != "truncate" {
		t.Errorf("unexpected mode names: %s %s", Append, Truncate)
	}
	if WriteMode(9).String() != "WriteMode(9)" {
		t.Errorf("unexpected unknown mode name: %s", WriteMode(9))
	}
}
