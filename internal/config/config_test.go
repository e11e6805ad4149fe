// SPDX-License-Identifier: AGPL-3.0-or-later

package config_test

import (
	"errors"
	"testing"

	"github.com/sirimitm/sirimitm/internal/config"
)

func makeValidConfig() config.Config {
	return config.Config{
		LogLevel:   config.LogLevelInfo,
		ListenAddr: "0.0.0.0",
		ListenPort: 5223,
		TLS: config.TLSConfig{
			CertFile: "keys/server.crt",
			KeyFile:  "keys/server.key",
		},
		Upstream: config.UpstreamConfig{
			Host: "17.174.4.4",
			Port: 443,
		},
	}
}

func TestConfigValidateOK(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestConfigValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.LogLevel = "trace"
	if !errors.Is(c.Validate(), config.ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got %v", c.Validate())
	}
}

func TestConfigValidateInvalidListenPort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too large", 70000},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := makeValidConfig()
			c.ListenPort = tt.port
			if !errors.Is(c.Validate(), config.ErrInvalidListenPort) {
				t.Errorf("expected ErrInvalidListenPort, got %v", c.Validate())
			}
		})
	}
}

func TestUpstreamValidateEmptyHost(t *testing.T) {
	t.Parallel()
	u := config.UpstreamConfig{Host: "", Port: 443}
	if !errors.Is(u.Validate(), config.ErrInvalidUpstreamHost) {
		t.Errorf("expected ErrInvalidUpstreamHost, got %v", u.Validate())
	}
}

func TestTLSValidateMissingFiles(t *testing.T) {
	t.Parallel()
	if !errors.Is((config.TLSConfig{KeyFile: "k"}).Validate(), config.ErrTLSCertRequired) {
		t.Error("expected ErrTLSCertRequired")
	}
	if !errors.Is((config.TLSConfig{CertFile: "c"}).Validate(), config.ErrTLSKeyRequired) {
		t.Error("expected ErrTLSKeyRequired")
	}
}

func TestMetricsValidateDisabledSkipsChecks(t *testing.T) {
	t.Parallel()
	m := config.MetricsConfig{Enabled: false}
	if err := m.Validate(); err != nil {
		t.Errorf("expected nil error for disabled metrics, got %v", err)
	}
}

func TestPluginSpecValidateRequiresName(t *testing.T) {
	t.Parallel()
	if !errors.Is((config.PluginSpec{}).Validate(), config.ErrPluginNameRequired) {
		t.Error("expected ErrPluginNameRequired")
	}
}

func TestConfigValidatePropagatesPluginErrors(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Plugins = []config.PluginSpec{{Name: "greeter"}, {Name: ""}}
	if !errors.Is(c.Validate(), config.ErrPluginNameRequired) {
		t.Errorf("expected ErrPluginNameRequired, got %v", c.Validate())
	}
}
