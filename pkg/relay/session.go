package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/config"
)

var (
	// ErrSessionTerminated is returned when a frame is offered after the
	// session started finalizing.
	ErrSessionTerminated = errors.New("session already terminated")

	// ErrSessionNotOpen is returned when a frame is offered before Open.
	ErrSessionNotOpen = errors.New("session not open")
)

// Session outcomes reported to Metrics.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeDisconnected = "disconnected"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateNew State = iota
	StateStreaming
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Metrics receives session observations. Implementations must not block.
type Metrics interface {
	SessionOpened()
	SessionClosed(outcome string, duration time.Duration)
	FrameSent(kind string)
	ClientDisconnected()
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()                      {}
func (nopMetrics) SessionClosed(string, time.Duration) {}
func (nopMetrics) FrameSent(string)                    {}
func (nopMetrics) ClientDisconnected()                 {}

// Settings control buffering and termination of a session.
type Settings struct {
	FlushInterval     time.Duration
	FlushThreshold    int
	HeartbeatInterval time.Duration
	FinalizeGrace     time.Duration
}

// SettingsFromConfig builds Settings from configuration.
func SettingsFromConfig(cfg config.RelayConfig) Settings {
	return Settings{
		FlushInterval:     cfg.FlushInterval,
		FlushThreshold:    cfg.FlushThresholdBytes,
		HeartbeatInterval: cfg.HeartbeatInterval,
		FinalizeGrace:     cfg.FinalizeGrace,
	}
}

type pending struct {
	kind FrameKind
	data []byte
}

// Session is the outbound side of one client stream. It buffers frames,
// coalesces consecutive deltas, sends heartbeats and guarantees that exactly
// one terminal frame is written and the transport is closed once.
type Session struct {
	id        string
	settings  Settings
	transport Transport
	metrics   Metrics
	logger    *slog.Logger

	mu           sync.Mutex
	state        State
	buf          []pending
	bufBytes     int
	opened       time.Time
	terminalSent bool
	outcome      string

	gone     chan struct{}
	goneOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	closing  sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a session over transport. Nothing is written until Open.
func NewSession(id string, transport Transport, settings Settings, opts ...SessionOption) *Session {
	if settings.FlushInterval <= 0 {
		settings.FlushInterval = config.DefaultRelayFlushInterval
	}
	if settings.FlushThreshold <= 0 {
		settings.FlushThreshold = config.DefaultRelayFlushThresholdBytes
	}
	s := &Session{
		id:        id,
		settings:  settings,
		transport: transport,
		metrics:   nopMetrics{},
		logger:    slog.Default(),
		gone:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "relay", "session_id", id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Gone is closed once a transport write failed, meaning the client left.
func (s *Session) Gone() <-chan struct{} { return s.gone }

// Open writes the connected frame synchronously and starts the flush and
// heartbeat tasks.
func (s *Session) Open(data ConnectedData) error {
	if data.SessionID == "" {
		data.SessionID = s.id
	}
	if data.Timestamp == 0 {
		data.Timestamp = time.Now().Unix()
	}

	s.mu.Lock()
	if s.state != StateNew {
		s.mu.Unlock()
		return errors.New("session already opened")
	}
	s.state = StateStreaming
	s.opened = time.Now()
	err := s.enqueueLocked(Frame{Kind: KindConnected, Data: data})
	if err == nil {
		err = s.flushLocked()
	}
	s.mu.Unlock()

	s.metrics.SessionOpened()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.flushLoop()
	if s.settings.HeartbeatInterval > 0 {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	return nil
}

// Send buffers a non-terminal frame. A delta replaces an unflushed delta at
// the tail of the buffer.
func (s *Session) Send(f Frame) error {
	if f.Kind.Terminal() {
		return errors.New("terminal frames are sent with Finish or Fail")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateNew:
		return ErrSessionNotOpen
	case StateFinalizing, StateClosed:
		return ErrSessionTerminated
	}
	if err := s.enqueueLocked(f); err != nil {
		return err
	}
	if s.bufBytes >= s.settings.FlushThreshold {
		return s.flushLocked()
	}
	return nil
}

// Finish writes the final frame, waits the finalize grace and closes the
// transport.
func (s *Session) Finish(data FinalData) error {
	if data.FollowUps == nil {
		data.FollowUps = []string{}
	}
	return s.terminate(Frame{Kind: KindFinal, Data: data}, OutcomeCompleted, s.settings.FinalizeGrace)
}

// Fail writes an error frame and closes the transport without delay.
func (s *Session) Fail(code, message string) error {
	return s.terminate(Frame{Kind: KindError, Data: ErrorData{Code: code, Message: message}}, OutcomeFailed, 0)
}

// Close tears the session down. A session closed without a terminal frame
// gets an error frame first.
func (s *Session) Close() error {
	err := s.terminate(Frame{Kind: KindError, Data: ErrorData{
		Code:    "stream_aborted",
		Message: "stream ended without completion",
	}}, OutcomeFailed, 0)
	if errors.Is(err, ErrSessionTerminated) {
		return nil
	}
	return err
}

func (s *Session) terminate(f Frame, outcome string, grace time.Duration) error {
	s.mu.Lock()
	if s.terminalSent {
		s.mu.Unlock()
		return ErrSessionTerminated
	}
	s.terminalSent = true
	if s.state == StateNew {
		s.opened = time.Now()
	}
	s.state = StateFinalizing
	s.outcome = outcome

	err := s.enqueueLocked(f)
	if err == nil {
		err = s.flushLocked()
	}
	if s.isGone() {
		s.outcome = OutcomeDisconnected
		grace = 0
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	if grace > 0 {
		time.Sleep(grace)
	}
	s.closeTransport()
	return err
}

func (s *Session) closeTransport() {
	s.closing.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		outcome, opened := s.outcome, s.opened
		s.mu.Unlock()

		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
		s.metrics.SessionClosed(outcome, time.Since(opened))
		s.logger.Debug("session closed", "outcome", outcome)
	})
}

// enqueueLocked appends f to the buffer, coalescing deltas. Callers hold s.mu.
func (s *Session) enqueueLocked(f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	if f.Kind == KindDelta && len(s.buf) > 0 && s.buf[len(s.buf)-1].kind == KindDelta {
		tail := &s.buf[len(s.buf)-1]
		s.bufBytes += len(data) - len(tail.data)
		tail.data = data
		return nil
	}
	s.buf = append(s.buf, pending{kind: f.Kind, data: data})
	s.bufBytes += len(data)
	return nil
}

// flushLocked writes the buffer to the transport. Callers hold s.mu.
func (s *Session) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}
	frames := s.buf
	s.buf = nil
	s.bufBytes = 0

	if s.isGone() {
		return context.Canceled
	}
	for _, p := range frames {
		if err := s.transport.Write(p.data); err != nil {
			s.markGone(err)
			return err
		}
		s.metrics.FrameSent(string(p.kind))
	}
	if err := s.transport.Flush(); err != nil {
		s.markGone(err)
		return err
	}
	return nil
}

// Disconnect records that the client went away. Later frames are dropped
// and the session closes without the finalize grace.
func (s *Session) Disconnect(reason error) {
	s.markGone(reason)
}

func (s *Session) isGone() bool {
	select {
	case <-s.gone:
		return true
	default:
		return false
	}
}

func (s *Session) markGone(err error) {
	s.goneOnce.Do(func() {
		close(s.gone)
		s.metrics.ClientDisconnected()
		s.logger.Info("client transport failed", "error", err)
	})
}

func (s *Session) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.settings.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == StateStreaming {
				_ = s.flushLocked()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			if s.state == StateStreaming {
				if err := s.enqueueLocked(Frame{Kind: KindHeartbeat, Data: HeartbeatData{Timestamp: now.Unix()}}); err == nil {
					_ = s.flushLocked()
				}
			}
			s.mu.Unlock()
		}
	}
}
