// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "errors"

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrInvalidListenAddr indicates that the provided device-facing listen address is not valid.
	ErrInvalidListenAddr = errors.New("invalid listen address provided")
	// ErrInvalidListenPort indicates that the provided device-facing listen port is not valid.
	ErrInvalidListenPort = errors.New("invalid listen port provided")
	// ErrTLSCertRequired indicates that no TLS certificate file was configured.
	ErrTLSCertRequired = errors.New("tls certificate file is required")
	// ErrTLSKeyRequired indicates that no TLS key file was configured.
	ErrTLSKeyRequired = errors.New("tls key file is required")
	// ErrInvalidUpstreamHost indicates that the provided upstream host is not valid.
	ErrInvalidUpstreamHost = errors.New("invalid upstream host provided")
	// ErrInvalidUpstreamPort indicates that the provided upstream port is not valid.
	ErrInvalidUpstreamPort = errors.New("invalid upstream port provided")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidPProfBindAddress indicates that the provided PProf server bind address is not valid.
	ErrInvalidPProfBindAddress = errors.New("invalid PProf server bind address provided")
	// ErrInvalidPProfPort indicates that the provided PProf server port is not valid.
	ErrInvalidPProfPort = errors.New("invalid PProf server port provided")
	// ErrInvalidAdminBindAddress indicates that the provided admin server bind address is not valid.
	ErrInvalidAdminBindAddress = errors.New("invalid admin server bind address provided")
	// ErrInvalidAdminPort indicates that the provided admin server port is not valid.
	ErrInvalidAdminPort = errors.New("invalid admin server port provided")
	// ErrPluginNameRequired indicates that a plugin entry was configured without a name.
	ErrPluginNameRequired = errors.New("plugin name is required")
)

// Validate validates the upstream configuration.
func (u UpstreamConfig) Validate() error {
	if u.Host == "" {
		return ErrInvalidUpstreamHost
	}
	if u.Port <= 0 || u.Port > 65535 {
		return ErrInvalidUpstreamPort
	}
	return nil
}

// Validate validates the TLS configuration.
func (t TLSConfig) Validate() error {
	if t.CertFile == "" {
		return ErrTLSCertRequired
	}
	if t.KeyFile == "" {
		return ErrTLSKeyRequired
	}
	return nil
}

// Validate validates the metrics configuration.
func (m MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Bind == "" {
		return ErrInvalidMetricsBindAddress
	}
	if m.Port <= 0 || m.Port > 65535 {
		return ErrInvalidMetricsPort
	}
	return nil
}

// Validate validates the pprof configuration.
func (p PProfConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Bind == "" {
		return ErrInvalidPProfBindAddress
	}
	if p.Port <= 0 || p.Port > 65535 {
		return ErrInvalidPProfPort
	}
	return nil
}

// Validate validates the admin surface configuration.
func (a AdminConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Bind == "" {
		return ErrInvalidAdminBindAddress
	}
	if a.Port <= 0 || a.Port > 65535 {
		return ErrInvalidAdminPort
	}
	return nil
}

// Validate validates a single plugin spec.
func (p PluginSpec) Validate() error {
	if p.Name == "" {
		return ErrPluginNameRequired
	}
	return nil
}

// Validate validates the complete configuration.
func (c Config) Validate() error {
	if c.LogLevel != LogLevelDebug &&
		c.LogLevel != LogLevelInfo &&
		c.LogLevel != LogLevelWarn &&
		c.LogLevel != LogLevelError {
		return ErrInvalidLogLevel
	}

	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return ErrInvalidListenPort
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := c.Upstream.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.PProf.Validate(); err != nil {
		return err
	}
	if err := c.Admin.Validate(); err != nil {
		return err
	}
	for _, p := range c.Plugins {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	return nil
}
