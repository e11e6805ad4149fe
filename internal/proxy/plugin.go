// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/sirimitm/sirimitm/internal/proxy/message"
	"github.com/sirimitm/sirimitm/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Plugin transforms decoded messages in each direction and may contribute
// regex-matched triggers against recognized phrases. Implementations are
// instantiated once per Session; they need no internal locking.
type Plugin interface {
	// FromClient is called on every decoded device->service payload before
	// it may be forwarded. Returning ok=false drops the message.
	FromClient(s *Session, m message.Message) (out message.Message, ok bool)
	// FromService is called on every decoded service->device payload
	// before it may be forwarded. Returning ok=false drops the message.
	FromService(s *Session, m message.Message) (out message.Message, ok bool)
	// Triggers returns this plugin's (regex, callback) pairs, harvested
	// once at session start.
	Triggers() []Trigger
}

// TriggerHandler is invoked with the recognized phrase and the message it
// was extracted from.
type TriggerHandler func(s *Session, phrase string, m message.Message)

// Trigger pairs a case-insensitive substring-matched regular expression
// with a callback to invoke on the first match.
type Trigger struct {
	Pattern *regexp.Regexp
	Handle  TriggerHandler
}

// NewTrigger compiles src as a case-insensitive regular expression. It
// panics on an invalid pattern, matching the reference behavior of
// building the trigger table once at plugin registration time.
func NewTrigger(src string, handle TriggerHandler) Trigger {
	return Trigger{
		Pattern: regexp.MustCompile("(?i)" + src),
		Handle:  handle,
	}
}

// Chain is the ordered sequence of plugins a Session applies to every
// decoded payload, plus the trigger table harvested from them.
type Chain struct {
	plugins  []Plugin
	triggers []Trigger
}

// NewChain builds a Chain from plugin instances in registration order,
// harvesting their triggers once.
func NewChain(plugins []Plugin) *Chain {
	c := &Chain{plugins: plugins}
	for _, p := range plugins {
		c.triggers = append(c.triggers, p.Triggers()...)
	}
	return c
}

// Triggers returns the chain's harvested trigger table.
func (c *Chain) Triggers() []Trigger {
	return c.triggers
}

// RunFromClient runs every plugin's FromClient transform in registration
// order, short-circuiting on the first DROP. A plugin transform that
// panics or whose failure is reported via recover is treated as fail-open:
// logged and skipped as if it had returned the message unchanged.
func (c *Chain) RunFromClient(s *Session, m message.Message) (message.Message, bool) {
	return c.run(s, m, Plugin.FromClient)
}

// RunFromService runs every plugin's FromService transform in registration
// order, short-circuiting on the first DROP.
func (c *Chain) RunFromService(s *Session, m message.Message) (message.Message, bool) {
	return c.run(s, m, Plugin.FromService)
}

type transformFn func(p Plugin, s *Session, m message.Message) (message.Message, bool)

func (c *Chain) run(s *Session, m message.Message, transform transformFn) (out message.Message, ok bool) {
	_, span := tracing.StartSpan(context.Background(), "proxy.plugin_chain")
	span.SetAttributes(attribute.String("session_id", s.ID()), attribute.String("class", m.Class()))
	defer span.End()

	out, ok = m, true
	for _, p := range c.plugins {
		out, ok = c.runOne(p, s, out, transform)
		if !ok {
			return out, false
		}
	}
	return out, true
}

func (c *Chain) runOne(p Plugin, s *Session, m message.Message, transform transformFn) (out message.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("plugin transform panicked, failing open", "session_id", s.ID(), "panic", r)
			out, ok = m, true
		}
	}()
	return transform(p, s, m)
}
