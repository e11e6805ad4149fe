// SPDX-License-Identifier: AGPL-3.0-or-later

package plugin_test

import (
	"testing"

	"github.com/sirimitm/sirimitm/internal/plugin"
	"github.com/sirimitm/sirimitm/internal/proxy/message"
	"github.com/stretchr/testify/require"
)

func TestFactoryResolvesRegisteredPlugin(t *testing.T) {
	t.Parallel()
	factory, err := plugin.Factory("logger", map[string]any{"level": "info"})
	require.NoError(t, err)

	p, err := factory()
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Empty(t, p.Triggers())
}

func TestFactoryUnknownPluginErrors(t *testing.T) {
	t.Parallel()
	_, err := plugin.Factory("does-not-exist", nil)
	require.Error(t, err)
	require.IsType(t, &plugin.ErrUnknownPlugin{}, err)
}

func TestGreeterTriggerClassOption(t *testing.T) {
	t.Parallel()
	factory, err := plugin.Factory("greeter", map[string]any{"triggerClass": "CustomIntent"})
	require.NoError(t, err)
	p, err := factory()
	require.NoError(t, err)

	// The default trigger class passes through once the option replaces it.
	m, ok := p.FromClient(nil, message.Wrap(map[string]any{"class": "GreetMeIntent"}))
	require.True(t, ok)
	require.Equal(t, "GreetMeIntent", func() string {
		v, _ := m.Raw.(map[string]any)["class"].(string)
		return v
	}())
}
