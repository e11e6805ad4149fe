// SPDX-License-Identifier: AGPL-3.0-or-later

// Package proxy implements the bidirectional framing proxy: per-connection
// decompression, frame parsing, plugin-mediated message rewriting, the
// blocking filter, and phrase extraction/dispatch described by the wire
// protocol this binary intercepts.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/sirimitm/sirimitm/internal/proxy/frame"
	"github.com/sirimitm/sirimitm/internal/proxy/message"
	"github.com/sirimitm/sirimitm/internal/proxy/plist"
	"github.com/sirimitm/sirimitm/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Direction names which leg of a Session a byte stream or message
// belongs to.
type Direction int

const (
	// ClientToService is traffic flowing from the device to the upstream
	// service.
	ClientToService Direction = iota
	// ServiceToClient is traffic flowing from the upstream service to the
	// device.
	ServiceToClient
)

// String renders the direction for logging.
func (d Direction) String() string {
	if d == ClientToService {
		return "client_to_service"
	}
	return "service_to_client"
}

// Peer returns the other direction.
func (d Direction) Peer() Direction {
	if d == ClientToService {
		return ServiceToClient
	}
	return ClientToService
}

// Metrics is the subset of instrumentation a Session reports through;
// internal/metrics.Metrics satisfies it. A nil Metrics is safe to use.
type Metrics interface {
	RecordFrameDecoded(direction, kind string)
	RecordFrameDropped(direction, reason string)
	RecordBytesProxied(direction string, n float64)
	RecordBlockingTransition(state string)
	RecordPhraseExtractDuration(seconds float64)
}

type pendingAnswer struct {
	handle func(s *Session, phrase string, m message.Message)
}

type directionState struct {
	rawSawMagic bool
	reader      *chunkReader
	zr          io.ReadCloser
	zw          *zlib.Writer
	decoder     *frame.Decoder
	conn        net.Conn
	peerConn    net.Conn
}

// Session is one device<->service connection pair: two transports, two
// per-direction compression pipelines, the observed refId, the blocking
// filter, the pending answer-handler slot, and the plugin chain's trigger
// table.
type Session struct {
	id string

	device  net.Conn
	service net.Conn

	dirs [2]*directionState

	chain *Chain

	mu            sync.Mutex
	refID         string
	blocking      Blocking
	pendingAnswer *pendingAnswer
	phrases       []PhraseEvent

	closeOnce sync.Once
	closed    chan struct{}

	metrics  Metrics
	log      *slog.Logger
	onPhrase func(sessionID string, event PhraseEvent)
}

// PhraseEvent is one recognized phrase recorded for a session, surfaced by
// the admin surface's history endpoint and live feed.
type PhraseEvent struct {
	Phrase string    `json:"phrase"`
	At     time.Time `json:"at"`
}

const phraseHistoryLimit = 20

// Phrases returns a snapshot of this session's recent recognized phrases,
// most recent last.
func (s *Session) Phrases() []PhraseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PhraseEvent, len(s.phrases))
	copy(out, s.phrases)
	return out
}

// SetPhraseListener installs a callback invoked for every recognized
// phrase, used to feed the admin websocket stream.
func (s *Session) SetPhraseListener(fn func(sessionID string, event PhraseEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhrase = fn
}

// NewSessionID derives a short opaque session identifier from the remote
// address and accept time. It is never part of the wire protocol and is
// not stable across process restarts.
func NewSessionID(remoteAddr string, acceptedAt time.Time) (string, error) {
	h, err := hashstructure.Hash(struct {
		RemoteAddr string
		AcceptedAt int64
	}{remoteAddr, acceptedAt.UnixNano()}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("proxy: failed to derive session id: %w", err)
	}
	const idLen = 12
	id := fmt.Sprintf("%012x", h)
	if len(id) > idLen {
		id = id[:idLen]
	}
	return id, nil
}

// NewSession builds a Session over an already-accepted device connection
// and an already-dialed service connection, wiring a plugin chain built
// from plugins.
func NewSession(id string, device, service net.Conn, plugins []Plugin, m Metrics) (*Session, error) {
	s := &Session{
		id:      id,
		device:  device,
		service: service,
		chain:   NewChain(plugins),
		closed:  make(chan struct{}),
		metrics: m,
		log:     slog.Default().With("session_id", id),
	}

	clientDir := &directionState{conn: device, peerConn: service, reader: newChunkReader(), decoder: frame.NewDecoder()}
	serviceDir := &directionState{conn: service, peerConn: device, reader: newChunkReader(), decoder: frame.NewDecoder()}
	s.dirs[ClientToService] = clientDir
	s.dirs[ServiceToClient] = serviceDir

	clientDir.zw = zlib.NewWriter(serviceDir.conn)
	serviceDir.zw = zlib.NewWriter(clientDir.conn)

	return s, nil
}

// ID returns the session's derived identifier.
func (s *Session) ID() string {
	return s.id
}

// RefID returns the most recently observed conversation identifier.
func (s *Session) RefID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refID
}

// BlockingState returns the current blocking mode, for the admin surface.
func (s *Session) BlockingState() BlockingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocking.State()
}

// Run starts the session's two transport read pumps and blocks until
// either fails or Close is called. It coordinates the pumps with an
// errgroup so a fatal error on either side tears down the other.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.readPump(ctx, ClientToService) })
	g.Go(func() error { return s.readPump(ctx, ServiceToClient) })
	g.Go(func() error { return s.decompressPump(ctx, ClientToService) })
	g.Go(func() error { return s.decompressPump(ctx, ServiceToClient) })

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	err := g.Wait()
	s.Close()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Session) readPump(ctx context.Context, dir Direction) error {
	d := s.dirs[dir]
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		default:
		}

		n, err := d.conn.Read(buf)
		if n > 0 {
			if m := s.metrics; m != nil {
				m.RecordBytesProxied(dir.String(), float64(n))
			}
			if ferr := s.onRawBytes(dir, buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrInjectError, err)
		}
	}
}

// onRawBytes handles the pre-decompression magic prefix (I1), forwarding
// it verbatim to the peer transport exactly once, then feeds the
// remaining bytes into this direction's decompression pipeline.
func (s *Session) onRawBytes(dir Direction, b []byte) error {
	d := s.dirs[dir]
	if !d.rawSawMagic {
		d.rawSawMagic = true
		if len(b) >= len(frame.Magic) && bytes.Equal(b[:len(frame.Magic)], frame.Magic[:]) {
			if _, err := d.peerConn.Write(frame.EncodeMagic()); err != nil {
				return fmt.Errorf("%w: %v", ErrInjectError, err)
			}
			b = b[len(frame.Magic):]
		}
	}
	d.reader.push(b)
	return nil
}

func (s *Session) decompressPump(ctx context.Context, dir Direction) error {
	d := s.dirs[dir]

	// zlib.NewReader blocks inside d.reader.Read until enough header bytes
	// have arrived from the transport's read pump.
	var err error
	d.zr, err = zlib.NewReader(d.reader)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDecompressError, err)
	}

	out := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		default:
		}

		n, rerr := d.zr.Read(out)
		if n > 0 {
			frames, ferr := d.decoder.Feed(out[:n])
			if ferr != nil {
				return fmt.Errorf("%w: %v", ErrFrameError, ferr)
			}
			for _, f := range frames {
				if herr := s.handleFrame(dir, f); herr != nil {
					return herr
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrDecompressError, rerr)
		}
	}
}

func (s *Session) handleFrame(dir Direction, f frame.Frame) error {
	d := s.dirs[dir]

	switch {
	case f.IsMagic:
		// Handled pre-decompression in onRawBytes; nothing to do here.
		return nil
	case f.IsMarker():
		if m := s.metrics; m != nil {
			m.RecordFrameDecoded(dir.String(), markerKindName(f.Kind))
		}
		// Forwarded through this direction's own compression context so
		// the peer's decompressor yields the identical kind and
		// sequence (marker transparency), rather than as raw bytes on a
		// stream the peer expects to be zlib-framed.
		if _, err := d.zw.Write(frame.EncodeMarker(f.Kind, f.Seq)); err != nil {
			return fmt.Errorf("%w: %v", ErrInjectError, err)
		}
		if err := d.zw.Flush(); err != nil {
			return fmt.Errorf("%w: %v", ErrInjectError, err)
		}
		return nil
	case f.IsPayload():
		if m := s.metrics; m != nil {
			m.RecordFrameDecoded(dir.String(), "payload")
		}
		return s.handlePayload(dir, f.Payload)
	default:
		return nil
	}
}

func markerKindName(k frame.Kind) string {
	if k == frame.KindPing {
		return "ping"
	}
	return "pong"
}

func (s *Session) handlePayload(dir Direction, body []byte) error {
	_, span := tracing.StartSpan(context.Background(), "proxy.on_bytes")
	span.SetAttributes(attribute.String("session_id", s.id), attribute.String("direction", dir.String()))
	defer span.End()

	val, err := plist.Decode(body)
	if err != nil {
		s.log.Warn("dropping payload that failed to decode", "direction", dir.String(), "error", err)
		if m := s.metrics; m != nil {
			m.RecordFrameDropped(dir.String(), "decode_error")
		}
		return nil
	}
	msg := message.Wrap(val)

	s.syncBlockingOnRefID(msg)

	var out message.Message
	var ok bool
	if dir == ClientToService {
		out, ok = s.chain.RunFromClient(s, msg)
	} else {
		out, ok = s.chain.RunFromService(s, msg)
	}
	if !ok {
		if m := s.metrics; m != nil {
			m.RecordFrameDropped(dir.String(), "plugin_drop")
		}
		return nil
	}

	if !s.blockingAllows(out) {
		if m := s.metrics; m != nil {
			m.RecordFrameDropped(dir.String(), "blocking")
		}
	} else if err := s.Inject(dir, out); err != nil {
		return err
	}

	if dir == ServiceToClient {
		s.extractAndDispatchPhrase(out)
	}
	return nil
}

// syncBlockingOnRefID implements I4: observing a payload whose refId
// differs from the session's ref_id clears blocking before that payload
// is evaluated. It then records the payload's refId as ref_id, so plugin
// transforms and phrase handlers running on this payload respond under it.
func (s *Session) syncBlockingOnRefID(m message.Message) {
	ref := m.RefID()
	if ref == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refID != "" && ref != s.refID {
		s.blocking.SetOff()
		if mt := s.metrics; mt != nil {
			mt.RecordBlockingTransition(BlockingOff.String())
		}
	}
	s.refID = ref
}

// blockingAllows evaluates the blocking filter for an outbound message and
// updates ref_id afterward.
func (s *Session) blockingAllows(m message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := s.blocking.Allow()
	if ref := m.RefID(); ref != "" {
		s.refID = ref
	}
	return allowed
}

func (s *Session) extractAndDispatchPhrase(m message.Message) {
	start := time.Now()
	phrase, ok := message.ExtractPhrase(m)
	if mt := s.metrics; mt != nil {
		mt.RecordPhraseExtractDuration(time.Since(start).Seconds())
	}
	if !ok {
		return
	}

	event := PhraseEvent{Phrase: phrase, At: time.Now()}
	s.mu.Lock()
	pending := s.pendingAnswer
	s.pendingAnswer = nil
	triggers := s.chain.Triggers()
	s.phrases = append(s.phrases, event)
	if len(s.phrases) > phraseHistoryLimit {
		s.phrases = s.phrases[len(s.phrases)-phraseHistoryLimit:]
	}
	listener := s.onPhrase
	s.mu.Unlock()

	if listener != nil {
		listener(s.id, event)
	}

	if pending != nil {
		pending.handle(s, phrase, m)
		return
	}
	for _, t := range triggers {
		if t.Pattern.MatchString(phrase) {
			t.Handle(s, phrase, m)
			return
		}
	}
}

// Inject updates ref_id from msg.RefID if present, encodes msg as a
// payload frame, compresses it with a full-flush boundary, and writes it
// to direction's transport. It is safe to call reentrantly from within a
// plugin transform.
func (s *Session) Inject(dir Direction, m message.Message) error {
	_, span := tracing.StartSpan(context.Background(), "proxy.inject")
	span.SetAttributes(attribute.String("session_id", s.id), attribute.String("direction", dir.String()), attribute.String("class", m.Class()))
	defer span.End()

	s.mu.Lock()
	if ref := m.RefID(); ref != "" {
		s.refID = ref
	}
	s.mu.Unlock()

	body, err := plist.Encode(m.Raw)
	if err != nil {
		return fmt.Errorf("proxy: failed to encode injected message: %w", err)
	}

	d := s.dirs[dir]
	if _, err := d.zw.Write(frame.EncodePayload(body)); err != nil {
		return fmt.Errorf("%w: %v", ErrInjectError, err)
	}
	// A full flush lets the peer's streaming decompressor consume the
	// injected frame without waiting on further data.
	if err := d.zw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrInjectError, err)
	}
	return nil
}

// Respond sets blocking to hold, builds an AddViews/Utterance message
// rooted at the current refId, and injects it toward the device.
func (s *Session) Respond(text, speakableText, dialogueIdentifier string, listenAfterSpeaking bool) error {
	s.mu.Lock()
	s.blocking.SetHold()
	ref := s.refID
	s.mu.Unlock()
	if mt := s.metrics; mt != nil {
		mt.RecordBlockingTransition(BlockingHold.String())
	}

	m := message.NewUtterance(ref, text, speakableText, dialogueIdentifier, listenAfterSpeaking)
	return s.Inject(ServiceToClient, m)
}

// Complete injects a RequestCompleted message rooted at the current refId
// toward the device.
func (s *Session) Complete() error {
	s.mu.Lock()
	ref := s.refID
	s.mu.Unlock()
	return s.Inject(ServiceToClient, message.NewRequestCompleted(ref))
}

// Ask is a convenience combining Respond(listenAfterSpeaking=true) with
// registering handle as the session's single pending answer-handler.
func (s *Session) Ask(handle func(s *Session, phrase string, m message.Message), text, speakableText, dialogueIdentifier string) error {
	s.mu.Lock()
	s.blocking.SetHold()
	s.pendingAnswer = &pendingAnswer{handle: handle}
	s.mu.Unlock()
	if mt := s.metrics; mt != nil {
		mt.RecordBlockingTransition(BlockingHold.String())
	}

	return s.Respond(text, speakableText, dialogueIdentifier, true)
}

// HoldN arms an exact countdown hold of k upstream replies.
func (s *Session) HoldN(k int) {
	s.mu.Lock()
	s.blocking.SetHoldN(k)
	s.mu.Unlock()
	if mt := s.metrics; mt != nil {
		mt.RecordBlockingTransition(BlockingHoldN.String())
	}
}

// Close tears down both transports, clears ref_id and the pending
// answer-handler, and unblocks both decompression pumps. It runs exactly
// once per session. The plugin chain stays attached to the Session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		s.refID = ""
		s.pendingAnswer = nil
		s.mu.Unlock()

		if s.device != nil {
			_ = s.device.Close()
		}
		if s.service != nil {
			_ = s.service.Close()
		}
		for _, d := range s.dirs {
			if d.reader != nil {
				_ = d.reader.Close()
			}
		}
	})
}
