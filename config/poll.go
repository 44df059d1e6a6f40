package config

// PollConfig tunes the timer poller that redelivers due waits.
type PollConfig struct {
	// IntervalSeconds is how often the store is scanned for due
	// incidents.
	IntervalSeconds int `json:"interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *PollConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 5
	}
}
