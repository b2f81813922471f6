package live

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	mu     sync.Mutex
	ch     chan time.Time
	resets int
	stops  int
}

func (f *fakeTimer) Chan() <-chan time.Time { return f.ch }

func (f *fakeTimer) Reset(time.Duration) {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeTimer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeTimer) fire() {
	f.ch <- time.Now()
}

func (f *fakeTimer) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func newTestManager(t *testing.T) (*Manager, *fakeTimer) {
	t.Helper()
	ft := &fakeTimer{ch: make(chan time.Time)}
	m := NewManager(WithTimerFactory(func(time.Duration) Timer { return ft }))
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m, ft
}

func waitUtterance(t *testing.T, m *Manager) Utterance {
	t.Helper()
	select {
	case u := <-m.Utterances():
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for utterance")
		return Utterance{}
	}
}

func TestSilenceFinalizesAccumulatedSegments(t *testing.T) {
	m, ft := newTestManager(t)

	m.Push("I think we need", false)
	m.Push("a faster turnaround", false)
	m.Flush() // sync point so both pushes are applied
	// Flush emitted the combined utterance already.
	u := waitUtterance(t, m)
	if u.Text != "I think we need a faster turnaround" {
		t.Fatalf("text=%q", u.Text)
	}

	// Next stretch finalizes on the silence timer instead.
	m.Push("and better pricing", false)
	go ft.fire()
	u = waitUtterance(t, m)
	if u.Text != "and better pricing" {
		t.Fatalf("text=%q", u.Text)
	}
	if m.Partial() != "" {
		t.Fatalf("partial=%q after finalize", m.Partial())
	}
}

func TestMeaningfulInterimRestartsSilenceTimer(t *testing.T) {
	m, ft := newTestManager(t)

	m.Push("first segment here", false)
	m.Push("second segment here", false)
	m.Push("third segment here", false)
	m.Flush()
	waitUtterance(t, m)

	// First push creates the timer; each further one resets it.
	if got := ft.resetCount(); got < 2 {
		t.Fatalf("resets=%d, want >=2", got)
	}
}

func TestFinalPushCommitsImmediately(t *testing.T) {
	m, _ := newTestManager(t)

	m.Push("ready when you are", true)
	u := waitUtterance(t, m)
	if u.Text != "ready when you are" {
		t.Fatalf("text=%q", u.Text)
	}
}

func TestEchoAndFillerSegmentsDropped(t *testing.T) {
	m, _ := newTestManager(t)

	m.Push("what brings you in", false)
	m.Push("what brings you in", false) // transcription echo
	m.Push("um", false)                 // filler only
	m.Push("   ", false)                // whitespace
	m.Flush()
	u := waitUtterance(t, m)
	if u.Text != "what brings you in" {
		t.Fatalf("text=%q", u.Text)
	}
}

func TestEmptyBufferNeverEmits(t *testing.T) {
	m, _ := newTestManager(t)

	m.Push("", false)
	m.Flush()
	select {
	case u := <-m.Utterances():
		t.Fatalf("unexpected utterance %q", u.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopFlushesRemainderAndGoesIdle(t *testing.T) {
	ft := &fakeTimer{ch: make(chan time.Time)}
	m := NewManager(WithTimerFactory(func(time.Duration) Timer { return ft }))
	m.Start(context.Background())

	m.Push("one last thing", false)
	m.Stop()
	u := waitUtterance(t, m)
	if u.Text != "one last thing" {
		t.Fatalf("text=%q", u.Text)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}

	// Stop after stop is a no-op.
	m.Stop()
}

func TestStopReleasesRunContextAndAllowsRestart(t *testing.T) {
	ft := &fakeTimer{ch: make(chan time.Time)}
	m := NewManager(WithTimerFactory(func(time.Duration) Timer { return ft }))
	m.Start(context.Background())
	m.Stop()

	m.mu.Lock()
	held := m.cancel
	m.mu.Unlock()
	if held != nil {
		t.Fatalf("run context cancel still held after Stop")
	}

	m.Start(context.Background())
	defer m.Stop()
	m.Push("back again", true)
	u := waitUtterance(t, m)
	if u.Text != "back again" {
		t.Fatalf("text=%q", u.Text)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	if got := m.State(); got != StateListening {
		t.Fatalf("state=%s", got)
	}
	m.Start(context.Background()) // second start must not spawn a second loop
	m.Push("hello over there", true)
	waitUtterance(t, m)
	select {
	case u := <-m.Utterances():
		t.Fatalf("duplicate utterance %q from second loop", u.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBargeInFlaggedWhilePersonaSpeaking(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetPersonaSpeaking(true)
	m.Push("hold on a second", true)
	u := waitUtterance(t, m)
	if !u.BargeIn {
		t.Fatalf("expected barge-in flag")
	}

	m.SetPersonaSpeaking(false)
	m.Push("as I was saying", true)
	u = waitUtterance(t, m)
	if u.BargeIn {
		t.Fatalf("barge-in flagged without persona audio")
	}
}

func TestPartialExposesAccumulatedTranscript(t *testing.T) {
	m, _ := newTestManager(t)

	m.Push("the first part", false)
	m.Push("and the second", false)
	// Flush is the sync point; read Partial before the emit clears it by
	// draining after.
	deadline := time.Now().Add(2 * time.Second)
	for m.Partial() != "the first part and the second" {
		if time.Now().After(deadline) {
			t.Fatalf("partial=%q", m.Partial())
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Flush()
	waitUtterance(t, m)
}
