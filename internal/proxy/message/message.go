// SPDX-License-Identifier: AGPL-3.0-or-later

// Package message defines the decoded application-layer message shape the
// proxy core interprets, plus the constructors for the synthetic messages
// plugins inject and the phrase-extraction logic that reads recognized
// speech and fallback utterances out of service->device traffic.
package message

import (
	"strings"

	"github.com/sirimitm/sirimitm/internal/proxy/plist"
)

// Message is the decoded structured value of a Payload frame. The core
// only interprets class, refId, and the properties sub-trees named below;
// everything else is preserved opaquely in Raw.
type Message struct {
	Raw plist.Value
}

// Wrap adapts a decoded plist.Value into a Message.
func Wrap(v plist.Value) Message {
	return Message{Raw: v}
}

// Class returns the message's class tag, or "" if absent.
func (m Message) Class() string {
	s, _ := plist.GetString(m.Raw, "class")
	return s
}

// RefID returns the message's conversation identifier, or "" if absent.
func (m Message) RefID() string {
	s, _ := plist.GetString(m.Raw, "refId")
	return s
}

const (
	// ClassSpeechRecognized tags a service->device recognized-speech message.
	ClassSpeechRecognized = "SpeechRecognized"
	// ClassAddViews tags a message instructing the device to render UI.
	ClassAddViews = "AddViews"
	// ClassRequestCompleted tags a message ending the current request.
	ClassRequestCompleted = "RequestCompleted"

	dialogIdentifierUnknownIntent = "Common#unknownIntent"
	defaultDialogueIdentifier     = "Misc#ident"
)

// NewUtterance builds the AddViews message a plugin injects toward the
// device to make it speak/display text.
func NewUtterance(refID, text, speakableText, dialogueIdentifier string, listenAfterSpeaking bool) Message {
	if dialogueIdentifier == "" {
		dialogueIdentifier = defaultDialogueIdentifier
	}
	if speakableText == "" {
		speakableText = text
	}

	view := plist.Map{
		"class": "Utterance",
		"properties": plist.Map{
			"text":                text,
			"speakableText":       speakableText,
			"dialogIdentifier":    dialogueIdentifier,
			"listenAfterSpeaking": listenAfterSpeaking,
		},
	}

	raw := plist.Map{
		"class": ClassAddViews,
		"refId": refID,
		"properties": plist.Map{
			"views": plist.Array{view},
		},
	}
	return Wrap(raw)
}

// NewRequestCompleted builds the RequestCompleted message that ends the
// current request rooted at refID.
func NewRequestCompleted(refID string) Message {
	raw := plist.Map{
		"class": ClassRequestCompleted,
		"refId": refID,
	}
	return Wrap(raw)
}

type token struct {
	text             string
	removeSpaceBefore bool
	removeSpaceAfter  bool
}

// ExtractPhrase inspects a fully-processed service->device message and
// recovers the user's recognized utterance text, if any.
func ExtractPhrase(m Message) (string, bool) {
	switch m.Class() {
	case ClassSpeechRecognized:
		return extractSpeechRecognized(m)
	case ClassAddViews:
		return extractUnknownIntentFallback(m)
	default:
		return "", false
	}
}

func extractSpeechRecognized(m Message) (string, bool) {
	phrases, ok := plist.GetArray(m.Raw, "properties", "recognition", "properties", "phrases")
	if !ok || len(phrases) == 0 {
		return "", false
	}
	var rawTokens plist.Array
	for _, phrase := range phrases {
		interpretations, ok := plist.GetArray(phrase, "properties", "interpretations")
		if !ok || len(interpretations) == 0 {
			return "", false
		}
		phraseTokens, ok := plist.GetArray(interpretations[0], "properties", "tokens")
		if !ok {
			return "", false
		}
		rawTokens = append(rawTokens, phraseTokens...)
	}

	tokens := make([]token, 0, len(rawTokens))
	for _, rt := range rawTokens {
		text, _ := plist.GetString(rt, "text")
		tokens = append(tokens, token{
			text:              text,
			removeSpaceBefore: plist.GetBool(rt, "removeSpaceBefore"),
			removeSpaceAfter:  plist.GetBool(rt, "removeSpaceAfter"),
		})
	}
	return joinTokens(tokens), true
}

// joinTokens concatenates token text, inserting a single space between
// consecutive tokens unless the left token's removeSpaceAfter or the right
// token's removeSpaceBefore is set.
func joinTokens(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			prev := tokens[i-1]
			if !prev.removeSpaceAfter && !t.removeSpaceBefore {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func extractUnknownIntentFallback(m Message) (string, bool) {
	views, ok := plist.GetArray(m.Raw, "properties", "views")
	if !ok || len(views) < 2 {
		return "", false
	}
	first, ok := plist.Index(views, 0)
	if !ok {
		return "", false
	}
	ident, _ := plist.GetString(first, "properties", "dialogIdentifier")
	if ident != dialogIdentifierUnknownIntent {
		return "", false
	}

	second, ok := plist.Index(views, 1)
	if !ok {
		return "", false
	}
	utterance, ok := unknownIntentUtterance(second)
	if !ok {
		return "", false
	}

	parts := strings.Split(utterance, "^")
	const utteranceIndex = 3
	if len(parts) <= utteranceIndex {
		return "", false
	}
	return parts[utteranceIndex], true
}

func unknownIntentUtterance(view plist.Value) (string, bool) {
	commands, ok := plist.GetArray(view, "properties", "commands")
	if !ok || len(commands) == 0 {
		return "", false
	}
	cmd0, ok := plist.Index(commands, 0)
	if !ok {
		return "", false
	}
	innerCommands, ok := plist.GetArray(cmd0, "properties", "commands")
	if !ok || len(innerCommands) == 0 {
		return "", false
	}
	inner0, ok := plist.Index(innerCommands, 0)
	if !ok {
		return "", false
	}
	return plist.GetString(inner0, "properties", "utterance")
}
