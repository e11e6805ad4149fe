// SPDX-License-Identifier: AGPL-3.0-or-later

package frame_test

import (
	"testing"

	"github.com/sirimitm/sirimitm/internal/proxy/frame"
	"github.com/stretchr/testify/require"
)

func TestDecoderMagicThenMarker(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	var in []byte
	in = append(in, frame.EncodeMagic()...)
	in = append(in, frame.EncodeMarker(frame.KindPing, 7)...)

	frames, err := d.Feed(in)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.True(t, frames[0].IsMagic)
	require.Equal(t, frame.KindPing, frames[1].Kind)
	require.Equal(t, uint32(7), frames[1].Seq)
}

func TestDecoderMagicOnlyOncePerDirection(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	_, err := d.Feed(frame.EncodeMagic())
	require.NoError(t, err)

	frames, err := d.Feed(append(frame.EncodeMagic(), 0x00))
	// A second occurrence of the magic bytes is parsed as an ordinary
	// (malformed) header, not as Magic again.
	require.ErrorIs(t, err, frame.ErrMalformedFrame)
	require.Empty(t, frames)
}

func TestDecoderPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	body := []byte("hello plist")
	frames, err := d.Feed(frame.EncodePayload(body))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.True(t, frames[0].IsPayload())
	require.Equal(t, body, frames[0].Payload)
}

func TestDecoderSplitPayload(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	encoded := frame.EncodePayload([]byte("split across reads"))
	half := len(encoded) / 2

	frames, err := d.Feed(encoded[:half])
	require.NoError(t, err)
	require.Empty(t, frames)

	frames, err = d.Feed(encoded[half:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, []byte("split across reads"), frames[0].Payload)
}

func TestDecoderRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	bad := []byte{0x09, 0x00, 0x00, 0x00, 0x00}
	_, err := d.Feed(bad)
	require.ErrorIs(t, err, frame.ErrMalformedFrame)
}

func TestDecoderMultipleFramesInOneFeed(t *testing.T) {
	t.Parallel()
	d := frame.NewDecoder()

	var in []byte
	in = append(in, frame.EncodePayload([]byte("one"))...)
	in = append(in, frame.EncodeMarker(frame.KindPong, 3)...)
	in = append(in, frame.EncodePayload([]byte("two"))...)

	frames, err := d.Feed(in)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, []byte("one"), frames[0].Payload)
	require.Equal(t, frame.KindPong, frames[1].Kind)
	require.Equal(t, []byte("two"), frames[2].Payload)
}
