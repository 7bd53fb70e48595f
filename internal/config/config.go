// Package config loads the flat per-service JSON configuration file
// spec.md §6 names: listen addresses, the broker address (invoker only),
// and a data directory (registry only). Grounded on the original's
// main.cpp pattern of resolving the config path to an absolute path,
// chdir'ing to its parent directory (so data_dir and other relative paths
// in the file resolve the way the author intended), and rejecting trailing
// garbage after the JSON value — not on an extra config library, since
// three flat keys don't warrant one (see DESIGN.md).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config is the JSON shape every service's config file follows. Not every
// service uses every field: the registry reads DataDir, the invoker reads
// Broker, and both broker and registry read Listen.
type Config struct {
	Listen  []string `json:"listen"`
	Broker  string   `json:"broker"`
	DataDir string   `json:"data_dir"`

	// EtcdEndpoints, if non-empty, turns on svcreg-backed service
	// registration (broker) or discovery (invoker, when Broker is left
	// empty) instead of requiring a static broker address in every
	// invoker's config file.
	EtcdEndpoints []string `json:"etcd_endpoints"`
}

// Load reads and parses the config file at path, then chdirs to its parent
// directory — mirroring std::filesystem::current_path(config_path.parent_path())
// in the original mains, so that DataDir and any future relative path in
// the file resolves relative to the config file's location rather than
// the process's launch directory.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve configuration path %q: %w", path, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("could not open configuration file at %q: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file at %q: %w", path, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("could not parse configuration file at %q: %w", path, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("the configuration file at %q contains excess data", path)
	}

	if err := os.Chdir(filepath.Dir(abs)); err != nil {
		return nil, fmt.Errorf("could not change to configuration directory: %w", err)
	}
	return &cfg, nil
}
