// Package settings persists the user-facing engine settings to the YAML
// config file the CLI reads at startup.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// Store writes settings into one config file. It only holds keys read from
// that file or persisted through it, so defaults and environment overrides
// are never written back.
type Store struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

var _ model.SettingsStore = (*Store)(nil)

// Open loads path if it exists. A missing file is created on the first
// Persist.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings: config path is required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("settings: read %s: %w", path, err)
		}
	}
	return &Store{path: path, v: v}, nil
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Persist sets key and rewrites the file.
func (s *Store) Persist(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("settings: create config dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}
