package bootstrap

import (
	"dlob_engine/internal/config"
	"fmt"
	"net/url"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if err := checkURL("source.base_url", cfg.Source.BaseURL, "http", "https"); err != nil {
		return err
	}
	if cfg.Source.SlotWSURL != "" {
		if err := checkURL("source.slot_ws_url", cfg.Source.SlotWSURL, "ws", "wss"); err != nil {
			return err
		}
	}

	ports := map[int]string{}
	for name, port := range map[string]int{
		"server.http_port": cfg.Server.HTTPPort,
		"server.grpc_port": cfg.Server.GRPCPort,
		"server.ws_port":   cfg.Server.WSPort,
	} {
		if port == 0 {
			continue
		}
		if other, dup := ports[port]; dup {
			return fmt.Errorf("%s and %s both use port %d", other, name, port)
		}
		ports[port] = name
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q must be an absolute %v URL", field, raw, schemes)
}
