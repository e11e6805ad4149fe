// SPDX-License-Identifier: AGPL-3.0-or-later

package plugin

import (
	"context"
	"log/slog"

	"github.com/sirimitm/sirimitm/internal/proxy"
	"github.com/sirimitm/sirimitm/internal/proxy/message"
)

func init() {
	Register("logger", newLoggerPlugin)
}

// loggerPlugin is a reference plugin that passes every message through
// unchanged, logging its class and refId. It demonstrates the minimal
// Plugin shape and exercises the registry end to end.
type loggerPlugin struct {
	level slog.Level
}

func newLoggerPlugin(options map[string]any) (proxy.Plugin, error) {
	level := slog.LevelDebug
	if raw, ok := options["level"]; ok {
		if s, ok := raw.(string); ok {
			switch s {
			case "info":
				level = slog.LevelInfo
			case "warn":
				level = slog.LevelWarn
			}
		}
	}
	return &loggerPlugin{level: level}, nil
}

func (p *loggerPlugin) FromClient(s *proxy.Session, m message.Message) (message.Message, bool) {
	slog.Log(context.Background(), p.level, "client message", "session_id", s.ID(), "class", m.Class(), "ref_id", m.RefID())
	return m, true
}

func (p *loggerPlugin) FromService(s *proxy.Session, m message.Message) (message.Message, bool) {
	slog.Log(context.Background(), p.level, "service message", "session_id", s.ID(), "class", m.Class(), "ref_id", m.RefID())
	return m, true
}

func (p *loggerPlugin) Triggers() []proxy.Trigger {
	return nil
}
