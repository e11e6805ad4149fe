// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// PluginFactory builds a fresh Plugin instance for a new session. Plugins
// are instantiated per session so they need no internal locking.
type PluginFactory func() (Plugin, error)

// Listener accepts TLS connections from devices, dials the upstream
// service over TLS for each, and wires the pair into a Session. It tracks
// every live session in a concurrent map so the admin surface can
// enumerate them without contending with the hot per-connection path.
type Listener struct {
	tlsConfig      *tls.Config
	upstreamAddr   string
	upstreamTLS    *tls.Config
	pluginFactories []PluginFactory
	metrics        Metrics

	sessions *xsync.Map[string, *Session]
}

// NewListener builds a Listener that will terminate device TLS with
// deviceTLSConfig and originate upstream TLS to upstreamAddr using
// upstreamTLSConfig, instantiating pluginFactories fresh for each session.
func NewListener(deviceTLSConfig *tls.Config, upstreamAddr string, upstreamTLSConfig *tls.Config, pluginFactories []PluginFactory, m Metrics) *Listener {
	return &Listener{
		tlsConfig:       deviceTLSConfig,
		upstreamAddr:    upstreamAddr,
		upstreamTLS:     upstreamTLSConfig,
		pluginFactories: pluginFactories,
		metrics:         m,
		sessions:        xsync.NewMap[string, *Session](),
	}
}

// Serve accepts device connections on addr until it errors.
func (l *Listener) Serve(addr string) error {
	ln, err := tls.Listen("tcp", addr, l.tlsConfig)
	if err != nil {
		return fmt.Errorf("proxy: failed to listen on %s: %w", addr, err)
	}
	defer ln.Close()

	slog.Info("proxy listening for device connections", "address", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("proxy: accept failed: %w", err)
		}
		go l.handleDevice(conn)
	}
}

func (l *Listener) handleDevice(device net.Conn) {
	acceptedAt := time.Now()
	id, err := NewSessionID(device.RemoteAddr().String(), acceptedAt)
	if err != nil {
		slog.Error("failed to derive session id, closing connection", "error", err)
		_ = device.Close()
		return
	}
	log := slog.With("session_id", id, "remote_addr", device.RemoteAddr().String())

	service, err := tls.Dial("tcp", l.upstreamAddr, l.upstreamTLS)
	if err != nil {
		log.Error("failed to dial upstream service", "error", err)
		_ = device.Close()
		return
	}

	plugins, err := l.instantiatePlugins()
	if err != nil {
		log.Error("failed to instantiate plugin chain", "error", err)
		_ = device.Close()
		_ = service.Close()
		return
	}

	sess, err := NewSession(id, device, service, plugins, l.metrics)
	if err != nil {
		log.Error("failed to create session", "error", err)
		_ = device.Close()
		_ = service.Close()
		return
	}

	l.sessions.Store(id, sess)
	defer l.sessions.Delete(id)

	log.Info("session connected")
	if err := sess.Run(context.Background()); err != nil {
		log.Error("session ended with error", "error", err)
	} else {
		log.Info("session closed")
	}
}

func (l *Listener) instantiatePlugins() ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(l.pluginFactories))
	for _, factory := range l.pluginFactories {
		p, err := factory()
		if err != nil {
			return nil, fmt.Errorf("proxy: plugin construction failed: %w", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Sessions returns a snapshot of the live sessions, for the admin surface.
func (l *Listener) Sessions() []*Session {
	out := make([]*Session, 0, l.sessions.Size())
	l.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Session looks up a live session by ID.
func (l *Listener) Session(id string) (*Session, bool) {
	return l.sessions.Load(id)
}

// ActiveSessionCount returns the number of live sessions.
func (l *Listener) ActiveSessionCount() int {
	return l.sessions.Size()
}
