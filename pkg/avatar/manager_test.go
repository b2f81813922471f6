package avatar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/types"
)

type fakeTokens struct {
	mu      sync.Mutex
	fetches int
	err     error
	expiry  time.Duration
}

func (f *fakeTokens) Fetch(context.Context) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	expiry := f.expiry
	if expiry == 0 {
		expiry = DefaultTokenTTL
	}
	return &Credentials{Token: "tok", Region: "eastus2", ExpiresIn: expiry, IssuedAt: time.Now()}, nil
}

func (f *fakeTokens) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeTransport struct {
	mu     sync.Mutex
	spoken []string
	events chan Event
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 8)}
}

func (f *fakeTransport) Speak(_ context.Context, ssml string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, ssml)
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) spokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spoken)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type managerFixture struct {
	m         *Manager
	tokens    *fakeTokens
	transport *fakeTransport
	dials     int

	mu            sync.Mutex
	refreshDelays []time.Duration
	refreshFns    []func()
}

func newFixture(t *testing.T, tokens *fakeTokens) *managerFixture {
	t.Helper()
	if tokens == nil {
		tokens = &fakeTokens{}
	}
	fx := &managerFixture{tokens: tokens, transport: newFakeTransport()}
	fx.m = NewManager(tokens, persona.Lookup(persona.Director),
		WithDialer(func(context.Context, *Credentials, string, string) (Transport, error) {
			fx.dials++
			return fx.transport, nil
		}),
		WithAfterFunc(func(d time.Duration, fn func()) *time.Timer {
			fx.mu.Lock()
			fx.refreshDelays = append(fx.refreshDelays, d)
			fx.refreshFns = append(fx.refreshFns, fn)
			fx.mu.Unlock()
			return time.NewTimer(time.Hour)
		}),
	)
	return fx
}

func waitState(t *testing.T, m *Manager, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s, want %s", m.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRefreshDelay(t *testing.T) {
	tests := []struct {
		expiry time.Duration
		want   time.Duration
	}{
		{600 * time.Second, 540 * time.Second},
		{120 * time.Second, 60 * time.Second},
		// Short-lived token: lead exceeds lifetime, floor kicks in.
		{70 * time.Second, 10 * time.Second},
		{40 * time.Second, 20 * time.Second},
		{100 * time.Second, 40 * time.Second},
	}
	for _, tt := range tests {
		if got := refreshDelay(tt.expiry); got != tt.want {
			t.Fatalf("refreshDelay(%v)=%v, want %v", tt.expiry, got, tt.want)
		}
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	fx := newFixture(t, nil)

	if err := fx.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := fx.m.State(); got != StateConnecting {
		t.Fatalf("state=%s, want connecting before media track", got)
	}

	// Second and third connects are no-ops in connecting and connected.
	if err := fx.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect again: %v", err)
	}
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking) // intro line starts playing
	if err := fx.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect while live: %v", err)
	}

	if fx.dials != 1 {
		t.Fatalf("dials=%d, want 1", fx.dials)
	}
	if fx.tokens.fetchCount() != 1 {
		t.Fatalf("token fetches=%d, want 1", fx.tokens.fetchCount())
	}
}

func TestMediaTrackSpeaksIntroLine(t *testing.T) {
	fx := newFixture(t, nil)
	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	fx.transport.mu.Lock()
	defer fx.transport.mu.Unlock()
	if len(fx.transport.spoken) != 1 {
		t.Fatalf("spoken=%d, want intro line", len(fx.transport.spoken))
	}
}

func TestSpeakIsNoOpUnlessConnected(t *testing.T) {
	fx := newFixture(t, nil)

	// Idle: ignored.
	if err := fx.m.Speak(context.Background(), "hello", types.EmotionNeutral); err != nil {
		t.Fatalf("Speak while idle: %v", err)
	}
	if fx.transport.spokenCount() != 0 {
		t.Fatalf("speak reached transport while idle")
	}

	// Connecting (dial done, no media track yet): still ignored.
	fx.m.Connect(context.Background())
	if err := fx.m.Speak(context.Background(), "hello", types.EmotionNeutral); err != nil {
		t.Fatalf("Speak while connecting: %v", err)
	}
	if fx.transport.spokenCount() != 0 {
		t.Fatalf("speak reached transport while connecting")
	}
}

func TestSpeechDoneReturnsToConnected(t *testing.T) {
	fx := newFixture(t, nil)
	var speakingLog []bool
	var logMu sync.Mutex
	fx.m.OnSpeaking = func(b bool) {
		logMu.Lock()
		speakingLog = append(speakingLog, b)
		logMu.Unlock()
	}

	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	fx.transport.events <- Event{Type: EventSpeechDone}
	waitState(t, fx.m, StateConnected)

	logMu.Lock()
	defer logMu.Unlock()
	if len(speakingLog) != 2 || !speakingLog[0] || speakingLog[1] {
		t.Fatalf("speaking transitions=%v, want [true false]", speakingLog)
	}
}

func TestDisconnectRefusesDuringSpeakUnlessForced(t *testing.T) {
	fx := newFixture(t, nil)
	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	if err := fx.m.Disconnect(false); err == nil {
		t.Fatalf("expected refusal while speaking")
	}
	if got := fx.m.State(); got != StateSpeaking {
		t.Fatalf("state=%s after refused disconnect", got)
	}

	if err := fx.m.Disconnect(true); err != nil {
		t.Fatalf("forced disconnect: %v", err)
	}
	if got := fx.m.State(); got != StateIdle {
		t.Fatalf("state=%s, want idle", got)
	}
	if !fx.transport.isClosed() {
		t.Fatalf("transport not closed")
	}
}

func TestDisconnectRefusesDuringConnect(t *testing.T) {
	fx := newFixture(t, nil)
	fx.m.Connect(context.Background())
	if err := fx.m.Disconnect(false); err == nil {
		t.Fatalf("expected refusal while connecting")
	}
	if err := fx.m.Disconnect(true); err != nil {
		t.Fatalf("forced disconnect: %v", err)
	}
}

func TestTransportLossMovesToError(t *testing.T) {
	fx := newFixture(t, nil)
	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	fx.transport.Close()
	waitState(t, fx.m, StateError)
	if fx.m.Available() {
		t.Fatalf("avatar reported available in error state")
	}
}

func TestConnectFailureOnTokenFetch(t *testing.T) {
	fx := newFixture(t, &fakeTokens{err: errors.New("issuer down")})
	if err := fx.m.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if got := fx.m.State(); got != StateError {
		t.Fatalf("state=%s, want error", got)
	}
	if fx.dials != 0 {
		t.Fatalf("dialed despite token failure")
	}
}

func TestRefreshSchedulingAndRearm(t *testing.T) {
	fx := newFixture(t, &fakeTokens{expiry: 70 * time.Second})
	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	fx.mu.Lock()
	if len(fx.refreshDelays) != 1 || fx.refreshDelays[0] != 10*time.Second {
		fx.mu.Unlock()
		t.Fatalf("refresh delays=%v, want [10s]", fx.refreshDelays)
	}
	fire := fx.refreshFns[0]
	fx.mu.Unlock()

	fire()

	if fx.tokens.fetchCount() != 2 {
		t.Fatalf("fetches=%d, want refresh fetch", fx.tokens.fetchCount())
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.refreshDelays) != 2 {
		t.Fatalf("refresh not re-armed: %v", fx.refreshDelays)
	}
	if fx.refreshDelays[1] != 10*time.Second {
		t.Fatalf("re-armed delay=%v", fx.refreshDelays[1])
	}
}

func TestRefreshFailureKeepsConnection(t *testing.T) {
	tokens := &fakeTokens{expiry: 70 * time.Second}
	fx := newFixture(t, tokens)
	fx.m.Connect(context.Background())
	fx.transport.events <- Event{Type: EventMediaTrack}
	waitState(t, fx.m, StateSpeaking)

	tokens.mu.Lock()
	tokens.err = errors.New("issuer down")
	tokens.mu.Unlock()

	fx.mu.Lock()
	fire := fx.refreshFns[0]
	fx.mu.Unlock()
	fire()

	if got := fx.m.State(); got != StateSpeaking {
		t.Fatalf("state=%s, refresh failure must not touch the connection", got)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.refreshDelays) != 2 {
		t.Fatalf("refresh retry not scheduled")
	}
}
