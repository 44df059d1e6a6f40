// Package config loads the service configuration from a JSON or YAML
// file with RC_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roadcall/dispatchd/core/metrics"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/infra/mqtt"
	"github.com/roadcall/dispatchd/infra/roster"
)

type Config struct {
	MQTT    mqtt.Config       `json:"mqtt"`
	Redis   roster.Config     `json:"redis"`
	Store   StoreConfig       `json:"store"`
	Match   model.MatchConfig `json:"match"`
	Metrics metrics.Config    `json:"metrics"`
	API     APIConfig         `json:"api"`
	Audit   AuditConfig       `json:"audit"`
	Poll    PollConfig        `json:"poll"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	cfg := Config{Match: model.DefaultMatchConfig()}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides: RC_API__ADDR=:8080 sets api.addr.
	if err := k.Load(env.Provider("RC_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "rc_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Store.SetDefaults()
	cfg.API.SetDefaults()
	cfg.Audit.SetDefaults()
	cfg.Poll.SetDefaults()
	if err := cfg.Match.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
