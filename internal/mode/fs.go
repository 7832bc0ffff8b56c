package mode

import (
	"errors"
	"io/fs"
	"os"
)

// FileSystem is the subset of file operations the controller performs on the
// module artifact.
type FileSystem interface {
	Exists(path string) (bool, error)
	Remove(path string) error
}

// ConfigEditor edits the shared OpenSSL configuration file.
// *opensslconf.Editor is the production implementation.
type ConfigEditor interface {
	Read() (string, error)
	Block() string
	AppendBlock() error
	Replace(content string) error
	HasBlock(content string) bool
}

// OSFileSystem implements FileSystem on the host file system.
type OSFileSystem struct{}

// Exists reports whether path exists. A missing file is not an error.
func (OSFileSystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes path.
func (OSFileSystem) Remove(path string) error {
	return os.Remove(path)
}
