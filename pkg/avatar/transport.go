package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType identifies a media transport event.
type EventType string

const (
	// EventMediaTrack fires when the avatar's video track is attached
	// and the stream is ready to render.
	EventMediaTrack EventType = "media.track"
	// EventSpeechDone fires when a dispatched speech finishes playing.
	EventSpeechDone EventType = "speech.done"
	// EventClosed fires when the transport shuts down.
	EventClosed EventType = "closed"
)

// Event is one message from the media transport.
type Event struct {
	Type   EventType
	Detail string
}

// Transport is the avatar media connection. Speak dispatches markup for
// synthesis on the stream; Events carries track and playback signals.
type Transport interface {
	Speak(ctx context.Context, ssml string) error
	Events() <-chan Event
	Close() error
}

// DialFunc opens a media transport with issued credentials.
type DialFunc func(ctx context.Context, creds *Credentials, character, style string) (Transport, error)

// wsTransport is the websocket media transport.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	errMu   sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	lastClose string
}

// Dial opens the avatar media websocket using the issued token.
func Dial(ctx context.Context, creds *Credentials, character, style string) (Transport, error) {
	wsURL := fmt.Sprintf("wss://%s.tts.speech.microsoft.com/cognitiveservices/avatar/ws/v1?character=%s&style=%s",
		creds.Region, character, style)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{
		conn:   conn,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	go t.keepAliveLoop()
	return t, nil
}

// Speak sends synthesis markup down the stream.
func (t *wsTransport) Speak(ctx context.Context, ssml string) error {
	return t.writeJSON(ctx, map[string]any{
		"type": "speak",
		"ssml": ssml,
	})
}

// Events returns the transport event channel. It closes when the
// connection goes away.
func (t *wsTransport) Events() <-chan Event {
	if t == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return t.events
}

// Close tears the connection down. Safe to call more than once.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.setLastClose("closed")
		_ = t.conn.Close()
	})
	return nil
}

func (t *wsTransport) readLoop() {
	defer close(t.events)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.setLastClose(fmt.Sprintf("code=%d msg=%s", closeErr.Code, strings.TrimSpace(closeErr.Text)))
			} else {
				t.setLastClose(strings.TrimSpace(err.Error()))
			}
			return
		}

		var msg struct {
			Type   string `json:"type"`
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var ev Event
		switch msg.Type {
		case "media.track", "track.attached":
			ev = Event{Type: EventMediaTrack, Detail: msg.Detail}
		case "speech.done", "synthesis.completed":
			ev = Event{Type: EventSpeechDone, Detail: msg.Detail}
		default:
			continue
		}

		select {
		case t.events <- ev:
		case <-t.closed:
			return
		}
	}
}

func (t *wsTransport) keepAliveLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
		}
	}
}

func (t *wsTransport) writeJSON(ctx context.Context, payload any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err := t.conn.WriteJSON(payload); err != nil {
		reason := t.closeReason()
		if reason == "" {
			return err
		}
		return fmt.Errorf("%w (transport %s)", err, reason)
	}
	return nil
}

func (t *wsTransport) setLastClose(reason string) {
	t.errMu.Lock()
	if t.lastClose == "" {
		t.lastClose = reason
	}
	t.errMu.Unlock()
}

func (t *wsTransport) closeReason() string {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastClose
}
