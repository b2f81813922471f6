package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/types"
)

// ConnState is the avatar connection lifecycle state.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateConnected  ConnState = "connected"
	StateSpeaking   ConnState = "speaking"
	StateError      ConnState = "error"
)

// refreshLead is how long before expiry the token refresh runs.
const refreshLead = 60 * time.Second

// refreshDelay computes when to refresh a token with the given lifetime.
// Normally expiry minus the lead; for short-lived tokens the delay floors
// at half the lifetime, capped at 30 seconds.
func refreshDelay(expiry time.Duration) time.Duration {
	d := expiry - refreshLead
	if d > 0 {
		return d
	}
	floor := expiry / 2
	if floor > 30*time.Second {
		floor = 30 * time.Second
	}
	return floor
}

// Manager owns one avatar connection. All state mutation goes through
// the mutex; the transport event loop and the refresh timer feed back
// into the same entry points.
type Manager struct {
	tokens  TokenSource
	dial    DialFunc
	profile persona.Profile
	logger  *slog.Logger

	// afterFunc schedules the refresh timer; injectable for tests.
	afterFunc func(time.Duration, func()) *time.Timer

	// OnSpeaking, when set, is told whenever persona audio starts or
	// stops (drives barge-in detection in the capture manager).
	OnSpeaking func(bool)

	mu           sync.Mutex
	state        ConnState
	transport    Transport
	creds        *Credentials
	refreshTimer *time.Timer
	gen          int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer overrides the transport dialer.
func WithDialer(d DialFunc) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.dial = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithAfterFunc injects the refresh timer scheduler.
func WithAfterFunc(f func(time.Duration, func()) *time.Timer) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.afterFunc = f
		}
	}
}

// NewManager creates a Manager for one persona's avatar.
func NewManager(tokens TokenSource, profile persona.Profile, opts ...ManagerOption) *Manager {
	m := &Manager{
		tokens:    tokens,
		dial:      Dial,
		profile:   profile,
		logger:    slog.Default(),
		afterFunc: time.AfterFunc,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Available reports whether the avatar can currently render speech.
func (m *Manager) Available() bool {
	s := m.State()
	return s == StateConnected || s == StateSpeaking
}

// Credentials returns the most recently issued credentials, or nil
// before the first connect.
func (m *Manager) Credentials() *Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

// Connect establishes the avatar connection: fetch credentials, dial the
// media transport, then wait for the first media-track event to finish
// the handshake. Calling Connect while connecting or connected is a
// no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateSpeaking:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	creds, err := m.tokens.Fetch(ctx)
	if err != nil {
		m.fail(gen, fmt.Errorf("fetch credentials: %w", err))
		return core.NewProviderError("avatar", err.Error())
	}

	transport, err := m.dial(ctx, creds, m.profile.Character, m.profile.Style)
	if err != nil {
		m.fail(gen, fmt.Errorf("dial transport: %w", err))
		return core.NewTransportError(err.Error())
	}

	m.mu.Lock()
	if m.state != StateConnecting || m.gen != gen {
		// Disconnected while dialing.
		m.mu.Unlock()
		_ = transport.Close()
		return nil
	}
	m.transport = transport
	m.creds = creds
	m.scheduleRefreshLocked(creds.ExpiresIn, gen)
	m.mu.Unlock()

	go m.eventLoop(transport, gen)
	return nil
}

// Speak renders one persona line through the avatar. Valid only while
// connected or already speaking; otherwise it logs and does nothing.
func (m *Manager) Speak(ctx context.Context, text string, emotion types.Emotion) error {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateSpeaking {
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("avatar speak ignored", "state", string(state))
		return nil
	}
	transport := m.transport
	wasSpeaking := m.state == StateSpeaking
	m.state = StateSpeaking
	m.mu.Unlock()

	if !wasSpeaking && m.OnSpeaking != nil {
		m.OnSpeaking(true)
	}

	ssml := persona.BuildSSML(m.profile, emotion, text)
	if err := transport.Speak(ctx, ssml); err != nil {
		m.logger.Error("avatar speak failed", "error", err)
		return core.NewTransportError(err.Error())
	}
	return nil
}

// Disconnect tears the connection down. While connecting or speaking it
// refuses unless forced; when it proceeds it always cancels the refresh
// timer and closes the transport.
func (m *Manager) Disconnect(force bool) error {
	m.mu.Lock()
	if (m.state == StateConnecting || m.state == StateSpeaking) && !force {
		state := m.state
		m.mu.Unlock()
		return core.NewInvalidRequestError(
			fmt.Sprintf("refusing to disconnect while %s; use force", state))
	}
	wasSpeaking := m.state == StateSpeaking
	transport := m.transport
	m.teardownLocked(StateIdle)
	m.mu.Unlock()

	if wasSpeaking && m.OnSpeaking != nil {
		m.OnSpeaking(false)
	}
	if transport != nil {
		return transport.Close()
	}
	return nil
}

// teardownLocked stops timers, detaches the transport, and moves to the
// target state. Caller holds the mutex.
func (m *Manager) teardownLocked(target ConnState) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.transport = nil
	m.state = target
	m.gen++
}

func (m *Manager) fail(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	wasSpeaking := m.state == StateSpeaking
	transport := m.transport
	m.teardownLocked(StateError)
	m.mu.Unlock()

	m.logger.Error("avatar connection failed", "error", err)
	if wasSpeaking && m.OnSpeaking != nil {
		m.OnSpeaking(false)
	}
	if transport != nil {
		_ = transport.Close()
	}
}

// eventLoop consumes transport events for one connection generation.
func (m *Manager) eventLoop(transport Transport, gen int) {
	for ev := range transport.Events() {
		switch ev.Type {
		case EventMediaTrack:
			m.onMediaTrack(gen)
		case EventSpeechDone:
			m.onSpeechDone(gen)
		}
	}
	// Channel closed: the connection is gone. If we initiated the
	// disconnect the generation already moved on.
	m.fail(gen, fmt.Errorf("media transport closed"))
}

func (m *Manager) onMediaTrack(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.mu.Unlock()

	m.logger.Info("avatar media track attached", "persona", string(m.profile.Type))

	// Open with the persona's scripted line once the stream renders.
	if m.profile.IntroLine != "" {
		_ = m.Speak(context.Background(), m.profile.IntroLine, m.profile.DefaultEmotion)
	}
}

func (m *Manager) onSpeechDone(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateSpeaking {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.mu.Unlock()

	if m.OnSpeaking != nil {
		m.OnSpeaking(false)
	}
}

// scheduleRefreshLocked arms the proactive token refresh. Caller holds
// the mutex.
func (m *Manager) scheduleRefreshLocked(expiry time.Duration, gen int) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	delay := refreshDelay(expiry)
	m.refreshTimer = m.afterFunc(delay, func() { m.refresh(gen) })
}

// refresh fetches new credentials and re-arms the timer. A failed
// refresh leaves the live connection alone and tries again next cycle.
func (m *Manager) refresh(gen int) {
	m.mu.Lock()
	if m.gen != gen || (m.state != StateConnected && m.state != StateSpeaking && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	creds, err := m.tokens.Fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if err != nil {
		m.logger.Warn("avatar token refresh failed, keeping current token", "error", err)
		m.scheduleRefreshLocked(refreshLead, gen)
		return
	}
	m.creds = creds
	m.scheduleRefreshLocked(creds.ExpiresIn, gen)
	m.logger.Debug("avatar token refreshed", "expiresIn", creds.ExpiresIn)
}
