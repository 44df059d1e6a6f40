package config

import "fmt"

// AuditConfig defines settings for the dispatch audit trail file and
// its rotation.
type AuditConfig struct {
	// Path is the file location of the audit trail.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *AuditConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "dispatch_audit.log"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
}

// Validate checks mandatory fields.
func (c AuditConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}
