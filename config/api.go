package config

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr"`
	// AdminToken guards the match-config admin endpoints. Empty
	// disables them.
	AdminToken string `json:"admin_token"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}
