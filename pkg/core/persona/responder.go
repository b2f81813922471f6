package persona

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/coachsim/pulse/pkg/core/providers/openai"
	"github.com/coachsim/pulse/pkg/core/types"
)

// maxHistoryMessages bounds how much transcript travels upstream per
// reply. Older turns are dropped from the prompt, never from the session.
const maxHistoryMessages = 20

// ChatProvider generates chat completions.
type ChatProvider interface {
	Complete(ctx context.Context, req openai.ChatRequest) (string, error)
}

// Request is one persona-reply generation request.
type Request struct {
	Persona   Type
	Utterance string
	History   []types.ConversationTurn
	Stage     types.Stage
	Trust     int
	// Hint steers the reply after a misstep (the customer's suggested
	// reaction from the trust engine).
	Hint string
	// Register is the trust-derived emotional register, used when the
	// reply text itself carries no emotional signal.
	Register types.Emotion
}

// Reply is the generated persona turn.
type Reply struct {
	Text    string
	Emotion types.Emotion
	// Fallback is set when the provider failed and the scripted line
	// was used instead.
	Fallback bool
}

// Responder turns trainee utterances into in-character persona replies.
// Provider failures degrade to a scripted line; Respond never errors the
// session.
type Responder struct {
	chat    ChatProvider
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBackoff sets the delay before the single retry.
func WithBackoff(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithResponderLogger sets the logger.
func WithResponderLogger(l *slog.Logger) ResponderOption {
	return func(r *Responder) { r.logger = l }
}

// NewResponder creates a Responder over the given chat provider.
func NewResponder(chat ChatProvider, opts ...ResponderOption) *Responder {
	r := &Responder{
		chat:    chat,
		timeout: 10 * time.Second,
		backoff: 300 * time.Millisecond,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond generates the persona's reply to one trainee utterance. The
// provider is tried twice (one retry with backoff); after that the
// persona's scripted fallback line is returned.
func (r *Responder) Respond(ctx context.Context, req Request) Reply {
	profile := Lookup(req.Persona)

	messages := r.buildMessages(profile, req)

	var text string
	backoff := retry.WithMaxRetries(1, retry.NewConstant(r.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		out, err := r.chat.Complete(callCtx, openai.ChatRequest{
			Messages:    messages,
			Temperature: 0.8,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		text = out
		return nil
	})
	if err != nil || text == "" {
		r.logger.Warn("persona reply generation failed, using scripted line",
			"persona", string(req.Persona), "error", err)
		return Reply{
			Text:     profile.FallbackLine,
			Emotion:  profile.DefaultEmotion,
			Fallback: true,
		}
	}

	return Reply{
		Text:    text,
		Emotion: InferEmotion(text, req.Register),
	}
}

func (r *Responder) buildMessages(profile Profile, req Request) []openai.Message {
	system := fmt.Sprintf(`You are an AI customer in a sales training simulation for the PULSE Selling methodology.

You are playing the role of a %s customer based on the Platinum Rule behavioral styles: %s.

Stay in character as a %s. Respond naturally to the sales associate's approach.
- If they're following the methodology well, be receptive but still present realistic challenges
- If they're struggling, present objections or concerns that fit your persona
- Keep responses concise (1-3 sentences) to simulate natural conversation flow

The conversation is at stage %d (%s) and your trust in the associate is %d out of 10.`,
		profile.DisplayName, profile.Traits, profile.DisplayName,
		int(req.Stage), req.Stage.Name(), req.Trust)
	if req.Hint != "" {
		system += fmt.Sprintf("\nThe associate just misstepped. React along the lines of: %q", req.Hint)
	}

	messages := make([]openai.Message, 0, maxHistoryMessages+2)
	messages = append(messages, openai.Message{Role: "system", Content: system})

	history := req.History
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, turn := range history {
		role := "user"
		if turn.Role == types.RolePersona {
			role = "assistant"
		}
		messages = append(messages, openai.Message{Role: role, Content: turn.Text})
	}

	return append(messages, openai.Message{Role: "user", Content: req.Utterance})
}
