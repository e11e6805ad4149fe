// SPDX-License-Identifier: AGPL-3.0-or-later

package plugin

import (
	"fmt"

	"github.com/sirimitm/sirimitm/internal/proxy"
	"github.com/sirimitm/sirimitm/internal/proxy/message"
)

func init() {
	Register("greeter", newGreeterPlugin)
}

// greeterPlugin is a reference plugin exercising the full injection
// surface: it intercepts a configured client request class, drops the
// original request, asks the user's name, and greets them with the
// recognized answer.
type greeterPlugin struct {
	triggerClass string
}

func newGreeterPlugin(options map[string]any) (proxy.Plugin, error) {
	triggerClass := "GreetMeIntent"
	if raw, ok := options["triggerClass"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			triggerClass = s
		}
	}
	return &greeterPlugin{triggerClass: triggerClass}, nil
}

func (p *greeterPlugin) FromClient(s *proxy.Session, m message.Message) (message.Message, bool) {
	if m.Class() != p.triggerClass {
		return m, true
	}

	err := s.Ask(func(s *proxy.Session, phrase string, _ message.Message) {
		_ = s.Respond(fmt.Sprintf("Nice to meet you, %s.", phrase), "", "", false)
		_ = s.Complete()
	}, "What is your name?", "", "")
	if err != nil {
		return m, true
	}
	return m, false
}

func (p *greeterPlugin) FromService(_ *proxy.Session, m message.Message) (message.Message, bool) {
	return m, true
}

func (p *greeterPlugin) Triggers() []proxy.Trigger {
	return []proxy.Trigger{
		proxy.NewTrigger("thank you", func(s *proxy.Session, phrase string, _ message.Message) {
			_ = s.Respond("You're welcome.", "", "", false)
		}),
	}
}
