// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/sirimitm/sirimitm/internal/proxy/frame"
	"github.com/sirimitm/sirimitm/internal/proxy/message"
	"github.com/sirimitm/sirimitm/internal/proxy/plist"
	"github.com/stretchr/testify/require"
)

// compressFrames zlib-compresses a sequence of already wire-encoded frame
// byte slices into one buffer, flushing after each the way a real client
// stream would.
func compressFrames(t *testing.T, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	for _, f := range frames {
		_, err := zw.Write(f)
		require.NoError(t, err)
		require.NoError(t, zw.Flush())
	}
	return buf.Bytes()
}

// readFrames reads and decompresses from conn until it has decoded want
// frames or the deadline elapses.
func readFrames(t *testing.T, conn net.Conn, want int) []frame.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	zr, err := zlib.NewReader(conn)
	require.NoError(t, err)

	dec := frame.NewDecoder()
	var out []frame.Frame
	buf := make([]byte, 4096)
	for len(out) < want {
		n, rerr := zr.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			require.NoError(t, ferr)
			out = append(out, frames...)
		}
		if rerr != nil {
			break
		}
	}
	return out
}

func newTestSession(t *testing.T, plugins []Plugin) (*Session, net.Conn, net.Conn) {
	t.Helper()
	deviceProxyConn, deviceTestConn := net.Pipe()
	serviceProxyConn, serviceTestConn := net.Pipe()

	sess, err := NewSession("test-session", deviceProxyConn, serviceProxyConn, plugins, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sess.Run(ctx) }()

	return sess, deviceTestConn, serviceTestConn
}

func TestSessionForwardsUnmodifiedPayload(t *testing.T) {
	t.Parallel()
	sess, deviceTestConn, serviceTestConn := newTestSession(t, nil)

	body, err := plist.Encode(plist.Map{"class": "SetRestrictions", "refId": "R1"})
	require.NoError(t, err)
	compressed := compressFrames(t, frame.EncodePayload(body))

	go func() { _, _ = deviceTestConn.Write(compressed) }()

	frames := readFrames(t, serviceTestConn, 1)
	require.Len(t, frames, 1)
	require.True(t, frames[0].IsPayload())

	val, err := plist.Decode(frames[0].Payload)
	require.NoError(t, err)
	m := message.Wrap(val)
	require.Equal(t, "SetRestrictions", m.Class())
	require.Equal(t, "R1", m.RefID())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, "R1", sess.RefID())
}

func TestSessionPluginDropSuppressesFrame(t *testing.T) {
	t.Parallel()
	sess, deviceTestConn, serviceTestConn := newTestSession(t, []Plugin{
		&fakePlugin{dropClass: "SetRestrictions"},
	})
	_ = sess

	dropped, err := plist.Encode(plist.Map{"class": "SetRestrictions", "refId": "R1"})
	require.NoError(t, err)
	allowed, err := plist.Encode(plist.Map{"class": "Other", "refId": "R1"})
	require.NoError(t, err)

	compressed := compressFrames(t, frame.EncodePayload(dropped), frame.EncodePayload(allowed))
	go func() { _, _ = deviceTestConn.Write(compressed) }()

	frames := readFrames(t, serviceTestConn, 1)
	require.Len(t, frames, 1)
	val, err := plist.Decode(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "Other", message.Wrap(val).Class())
}

func TestSessionMagicPassthrough(t *testing.T) {
	t.Parallel()
	_, deviceTestConn, serviceTestConn := newTestSession(t, nil)

	var raw []byte
	raw = append(raw, frame.EncodeMagic()...)
	raw = append(raw, compressFrames(t, frame.EncodeMarker(frame.KindPing, 7))...)

	go func() { _, _ = deviceTestConn.Write(raw) }()

	require.NoError(t, serviceTestConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	magicBuf := make([]byte, len(frame.Magic))
	_, err := readFull(serviceTestConn, magicBuf)
	require.NoError(t, err)
	require.Equal(t, frame.EncodeMagic(), magicBuf)

	frames := readFrames(t, serviceTestConn, 1)
	require.Len(t, frames, 1)
	require.Equal(t, frame.KindPing, frames[0].Kind)
	require.Equal(t, uint32(7), frames[0].Seq)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
