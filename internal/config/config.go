// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config defines the typed configuration for the sirimitm proxy,
// which internal/cmd loads through configulator (defaults -> YAML file ->
// environment).
package config

import "fmt"

// PluginSpec names one entry of the configured plugin chain, in registration
// order. Options are passed verbatim to the named plugin's constructor.
type PluginSpec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// TLSConfig names the certificate/key pair the proxy uses both to terminate
// the device connection and to originate the upstream connection.
type TLSConfig struct {
	CertFile string `yaml:"certFile" default:"keys/server.crt"`
	KeyFile  string `yaml:"keyFile" default:"keys/server.key"`
}

// UpstreamConfig is the real Siri service the proxy dials on behalf of the
// device.
type UpstreamConfig struct {
	Host               string `yaml:"host" default:"17.174.4.4"`
	Port               int    `yaml:"port" default:"443"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify" default:"false"`
}

// MetricsConfig controls the Prometheus metrics endpoint and OTLP tracing.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" default:"true"`
	Bind         string `yaml:"bind" default:"127.0.0.1"`
	Port         int    `yaml:"port" default:"9105"`
	OTLPEndpoint string `yaml:"otlpEndpoint" default:""`
}

// PProfConfig controls the optional debug pprof server.
type PProfConfig struct {
	Enabled        bool     `yaml:"enabled" default:"false"`
	Bind           string   `yaml:"bind" default:"127.0.0.1"`
	Port           int      `yaml:"port" default:"9106"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// AdminConfig controls the admin HTTP surface (session inspection, live
// phrase feed). It is never required for the proxy to function.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" default:"false"`
	Bind        string   `yaml:"bind" default:"127.0.0.1"`
	Port        int      `yaml:"port" default:"9107"`
	CORSHosts   []string `yaml:"corsHosts"`
	OpenBrowser bool     `yaml:"openBrowser" default:"false"`
}

// Config stores the application configuration for sirimitm.
type Config struct {
	ListenAddr string         `yaml:"listenAddr" default:"0.0.0.0"`
	ListenPort int            `yaml:"listenPort" default:"5223"`
	LogLevel   LogLevel       `yaml:"logLevel" default:"info"`
	TLS        TLSConfig      `yaml:"tls"`
	Upstream   UpstreamConfig `yaml:"upstream"`
	Metrics    MetricsConfig  `yaml:"metrics"`
	PProf      PProfConfig    `yaml:"pprof"`
	Admin      AdminConfig    `yaml:"admin"`
	Plugins    []PluginSpec   `yaml:"plugins"`
}

// UpstreamAddr returns the host:port dial string for the upstream service.
func (c *Config) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.Upstream.Host, c.Upstream.Port)
}

// ListenAddress returns the host:port listen string for the device-facing
// listener.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}
