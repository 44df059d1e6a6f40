package config

import "fmt"

// StoreConfig selects the incident/offer store backend.
type StoreConfig struct {
	// Backend is "sqlite" or "memory". Memory is for development only.
	Backend string `json:"backend"`
	// Path is the sqlite database file.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		c.Path = "dispatchd.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	if c.Backend != "sqlite" && c.Backend != "memory" {
		return fmt.Errorf("unknown store backend %s", c.Backend)
	}
	if c.Backend == "sqlite" && c.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}
