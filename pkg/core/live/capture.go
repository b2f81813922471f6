package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSilenceWindow is how long the capture waits after the last
// meaningful transcript before finalizing the utterance.
const DefaultSilenceWindow = 1500 * time.Millisecond

// State is the capture manager's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Utterance is one finalized stretch of trainee speech.
type Utterance struct {
	Text string
	// BargeIn is set when the trainee spoke while persona audio was
	// still playing.
	BargeIn     bool
	FinalizedAt time.Time
}

// Timer abstracts time.Timer so tests can fire the silence window
// deterministically.
type Timer interface {
	Chan() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) Chan() <-chan time.Time { return r.t.C }
func (r *realTimer) Reset(d time.Duration)  { r.t.Reset(d) }
func (r *realTimer) Stop() {
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
}

func newRealTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type pushMsg struct {
	text    string
	isFinal bool
}

// Manager debounces interim speech transcripts into utterances. Interims
// accumulate while the trainee keeps talking; a stretch of silence, an
// explicit commit, or Stop finalizes the accumulated text as one
// utterance on Utterances().
type Manager struct {
	silenceWindow time.Duration
	now           func() time.Time
	newTimer      func(time.Duration) Timer
	logger        *slog.Logger

	pushCh  chan pushMsg
	flushCh chan chan struct{}
	stopCh  chan chan struct{}
	utterCh chan Utterance

	personaSpeaking atomic.Bool

	mu      sync.Mutex
	state   State
	partial string
	cancel  context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSilenceWindow overrides the silence debounce window.
func WithSilenceWindow(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.silenceWindow = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTimerFactory injects the silence timer constructor.
func WithTimerFactory(f func(time.Duration) Timer) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.newTimer = f
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a capture manager in the idle state.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		silenceWindow: DefaultSilenceWindow,
		now:           time.Now,
		newTimer:      newRealTimer,
		logger:        slog.Default(),
		pushCh:        make(chan pushMsg, 16),
		flushCh:       make(chan chan struct{}),
		stopCh:        make(chan chan struct{}),
		utterCh:       make(chan Utterance, 16),
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Partial returns the accumulated not-yet-finalized transcript.
func (m *Manager) Partial() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partial
}

// Utterances returns the finalized utterance channel.
func (m *Manager) Utterances() <-chan Utterance {
	return m.utterCh
}

// Start moves the manager to listening and begins accepting transcripts.
// Calling Start while already listening is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateListening || m.state == StateProcessing {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateListening
	go m.run(runCtx)
}

// Push feeds one transcript segment. isFinal forces immediate
// finalization of everything accumulated so far, segment included.
func (m *Manager) Push(text string, isFinal bool) {
	select {
	case m.pushCh <- pushMsg{text: text, isFinal: isFinal}:
	default:
		m.logger.Warn("capture push dropped, buffer full")
	}
}

// SetPersonaSpeaking tells the capture whether persona audio is playing,
// so trainee speech over it can be flagged as a barge-in.
func (m *Manager) SetPersonaSpeaking(speaking bool) {
	m.personaSpeaking.Store(speaking)
}

// Flush finalizes the accumulated transcript immediately and waits for
// the utterance to be emitted.
func (m *Manager) Flush() {
	if m.State() == StateIdle || m.State() == StateError {
		return
	}
	done := make(chan struct{})
	m.flushCh <- done
	<-done
}

// Stop flushes the remainder, cancels the silence timer, and returns the
// manager to idle. The utterance channel stays open for draining.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateError {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	done := make(chan struct{})
	m.stopCh <- done
	<-done

	// The run loop has exited; release its derived context.
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setPartial(p string) {
	m.mu.Lock()
	m.partial = p
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	var (
		silence       Timer
		silenceActive bool
		segments      []string
		lastSegment   string
		bargeIn       bool
	)

	stopTimer := func() {
		if silence != nil {
			silence.Stop()
		}
		silenceActive = false
	}
	resetTimer := func() {
		if silence == nil {
			silence = m.newTimer(m.silenceWindow)
			silenceActive = true
			return
		}
		silence.Stop()
		silence.Reset(m.silenceWindow)
		silenceActive = true
	}
	silenceCh := func() <-chan time.Time {
		if !silenceActive || silence == nil {
			return nil
		}
		return silence.Chan()
	}

	finalize := func() {
		stopTimer()
		if len(segments) == 0 {
			return
		}
		m.setState(StateProcessing)
		text := strings.Join(segments, " ")
		u := Utterance{Text: text, BargeIn: bargeIn, FinalizedAt: m.now()}
		segments = nil
		lastSegment = ""
		bargeIn = false
		m.setPartial("")
		select {
		case m.utterCh <- u:
		case <-ctx.Done():
		}
		m.setState(StateListening)
	}

	handlePush := func(p pushMsg) {
		norm := normalizeSpace(p.text)
		if meaningful(norm, lastSegment) {
			segments = append(segments, norm)
			lastSegment = norm
			m.setPartial(strings.Join(segments, " "))
			if m.personaSpeaking.Load() {
				bargeIn = true
			}
			resetTimer()
		}
		if p.isFinal {
			finalize()
		}
	}

	// Flush and Stop must observe every Push already queued, so they
	// drain pushCh before finalizing.
	drainPushes := func() {
		for {
			select {
			case p := <-m.pushCh:
				handlePush(p)
			default:
				return
			}
		}
	}

	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			m.setState(StateError)
			return

		case p := <-m.pushCh:
			handlePush(p)

		case <-silenceCh():
			silenceActive = false
			finalize()

		case done := <-m.flushCh:
			drainPushes()
			finalize()
			close(done)

		case done := <-m.stopCh:
			drainPushes()
			finalize()
			m.setState(StateIdle)
			close(done)
			return
		}
	}
}
