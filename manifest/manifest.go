// Package manifest handles listvm.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/listvm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "listvm.toml"

// Manifest represents a listvm.toml configuration.
type Manifest struct {
	Render  Render  `toml:"render"`
	Log     Log     `toml:"log"`
	Journal Journal `toml:"journal"`

	// Dir is the directory containing the listvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Render configures the VM.
type Render struct {
	DuplicateKeys string `toml:"duplicate-keys"` // "abort" or "last-write-wins"
	Trace         bool   `toml:"trace"`
	MaxStack      int    `toml:"max-stack"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Journal configures where reconciliation events are stored.
type Journal struct {
	Database string `toml:"database"` // SQLite path; empty keeps the journal in memory
}

// Default returns the configuration used when no listvm.toml exists.
func Default() *Manifest {
	return &Manifest{
		Render: Render{
			DuplicateKeys: vm.DuplicateAbort.String(),
			MaxStack:      vm.DefaultMaxStack,
		},
	}
}

// Load parses a listvm.toml file from the given directory. Settings the file
// leaves out keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a listvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks enumerated and bounded settings.
func (m *Manifest) Validate() error {
	if _, err := vm.ParseDuplicatePolicy(m.Render.DuplicateKeys); err != nil {
		return fmt.Errorf("render.duplicate-keys: %w", err)
	}
	if m.Render.MaxStack < 0 {
		return fmt.Errorf("render.max-stack: must not be negative, got %d", m.Render.MaxStack)
	}
	if m.Log.Verbosity < -4 || m.Log.Verbosity > 5 {
		return fmt.Errorf("log.verbosity: %d out of range -4..5", m.Log.Verbosity)
	}
	return nil
}

// VMOptions returns the render settings as VM options. Factory, Resolver
// and Observer are left for the caller.
func (m *Manifest) VMOptions() (vm.Options, error) {
	policy, err := vm.ParseDuplicatePolicy(m.Render.DuplicateKeys)
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		Duplicate: policy,
		MaxStack:  m.Render.MaxStack,
		Trace:     m.Render.Trace,
	}, nil
}

// LogFile returns the log path for commonlog.Configure, nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

// DatabasePath returns the journal database path, or "" when the journal
// is not persisted.
func (m *Manifest) DatabasePath() string {
	if m.Journal.Database == "" {
		return ""
	}
	return m.resolve(m.Journal.Database)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
