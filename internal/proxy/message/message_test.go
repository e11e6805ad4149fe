// SPDX-License-Identifier: AGPL-3.0-or-later

package message_test

import (
	"testing"

	"github.com/sirimitm/sirimitm/internal/proxy/message"
	"github.com/sirimitm/sirimitm/internal/proxy/plist"
	"github.com/stretchr/testify/require"
)

func tok(text string, removeBefore, removeAfter bool) plist.Map {
	return plist.Map{
		"text":              text,
		"removeSpaceBefore": removeBefore,
		"removeSpaceAfter":  removeAfter,
	}
}

func speechRecognized(refID string, tokens plist.Array) message.Message {
	return message.Wrap(plist.Map{
		"class": message.ClassSpeechRecognized,
		"refId": refID,
		"properties": plist.Map{
			"recognition": plist.Map{
				"properties": plist.Map{
					"phrases": plist.Array{
						plist.Map{
							"properties": plist.Map{
								"interpretations": plist.Array{
									plist.Map{
										"properties": plist.Map{
											"tokens": tokens,
										},
									},
								},
							},
						},
					},
				},
			},
		},
	})
}

func TestExtractPhraseTokenSpacing(t *testing.T) {
	t.Parallel()
	m := speechRecognized("R1", plist.Array{
		tok("set", false, false),
		tok("the", false, false),
		tok("alarm", false, false),
		tok(".", true, false),
	})

	phrase, ok := message.ExtractPhrase(m)
	require.True(t, ok)
	require.Equal(t, "set the alarm.", phrase)
}

func TestExtractPhraseRemoveSpaceAfter(t *testing.T) {
	t.Parallel()
	m := speechRecognized("R1", plist.Array{
		tok("wait", false, true),
		tok("a", false, false),
		tok("minute", false, false),
	})

	phrase, ok := message.ExtractPhrase(m)
	require.True(t, ok)
	require.Equal(t, "waita minute", phrase)
}

func TestExtractPhraseUnknownIntentFallback(t *testing.T) {
	t.Parallel()
	m := message.Wrap(plist.Map{
		"class": message.ClassAddViews,
		"refId": "R9",
		"properties": plist.Map{
			"views": plist.Array{
				plist.Map{
					"properties": plist.Map{"dialogIdentifier": "Common#unknownIntent"},
				},
				plist.Map{
					"properties": plist.Map{
						"commands": plist.Array{
							plist.Map{
								"properties": plist.Map{
									"commands": plist.Array{
										plist.Map{
											"properties": plist.Map{
												"utterance": "a^b^c^set the alarm^d",
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	})

	phrase, ok := message.ExtractPhrase(m)
	require.True(t, ok)
	require.Equal(t, "set the alarm", phrase)
}

func TestExtractPhraseNoMatchReturnsFalse(t *testing.T) {
	t.Parallel()
	m := message.Wrap(plist.Map{"class": "SetRestrictions", "refId": "R1"})
	_, ok := message.ExtractPhrase(m)
	require.False(t, ok)
}

func TestNewUtteranceShape(t *testing.T) {
	t.Parallel()
	m := message.NewUtterance("R2", "hello", "", "", false)
	require.Equal(t, message.ClassAddViews, m.Class())
	require.Equal(t, "R2", m.RefID())
}

func TestNewRequestCompletedShape(t *testing.T) {
	t.Parallel()
	m := message.NewRequestCompleted("R2")
	require.Equal(t, message.ClassRequestCompleted, m.Class())
	require.Equal(t, "R2", m.RefID())
}
