package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAdmin is written by AdminFile.Init when no admin is configured yet.
const DefaultAdmin = "DefaultAdmin"

// ErrAdminEmpty is returned when the admin file exists but holds no name.
var ErrAdminEmpty = errors.New("admin file is empty")

// AdminFile holds the single admin identity: the chat that receives
// summaries and the person excluded from follow-ups.
type AdminFile struct {
	path string
}

// NewAdminFile returns an AdminFile backed by path.
func NewAdminFile(path string) AdminFile {
	return AdminFile{path: path}
}

// Path returns the backing file path.
func (a AdminFile) Path() string { return a.path }

// Load returns the trimmed admin name.
func (a AdminFile) Load() (string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return "", fmt.Errorf("reading admin file: %w", err)
	}
	name := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrAdminEmpty, a.path)
	}
	return name, nil
}

// Save replaces the admin name.
func (a AdminFile) Save(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrAdminEmpty
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("creating admin directory: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(name), 0o644); err != nil {
		return fmt.Errorf("writing admin file: %w", err)
	}
	return nil
}

// Init writes def when the file does not exist. An existing file is left alone.
func (a AdminFile) Init(def string) error {
	if _, err := os.Stat(a.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking admin file: %w", err)
	}
	if strings.TrimSpace(def) == "" {
		def = DefaultAdmin
	}
	return a.Save(def)
}
