package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coachsim/pulse/pkg/core/types"
)

// Analysis is the outcome of classifying one trainee utterance.
type Analysis struct {
	// Stage is the stage the session should be at after this utterance.
	Stage types.Stage
	// Advanced reports whether Stage moved forward this turn.
	Advanced bool
	// Behaviors lists the positive selling behaviors observed.
	Behaviors []string
	// TooPushy flags closing language used two or more stages early.
	TooPushy bool
	// Deterministic reports whether the lexical pass decided the result
	// (false means the model pass ran or the utterance carried no signal).
	Deterministic bool
}

// Model is the classifier used for the fallback pass. It receives a
// system prompt and a user message and must return a strict JSON object.
type Model interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// Analyzer classifies trainee utterances onto the PULSE scale. The
// deterministic lexical pass runs first; a model pass runs only when the
// lexical pass finds no signal and a Model is configured.
type Analyzer struct {
	model  Model
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModel attaches the fallback classifier.
func WithModel(m Model) Option {
	return func(a *Analyzer) { a.model = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// NewAnalyzer creates an Analyzer. Without WithModel it is purely lexical.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies one utterance given the current stage and the
// trainee-side history. It never regresses the stage and never advances
// more than one stage per turn.
func (a *Analyzer) Analyze(ctx context.Context, current types.Stage, utterance string, history []string) Analysis {
	result := Analysis{Stage: current}

	lower := strings.ToLower(strings.TrimSpace(utterance))
	if len(strings.Fields(lower)) < 2 {
		// Empty and one-word utterances carry no stage signal.
		result.Deterministic = true
		return result
	}

	// Closing language two or more stages early is flagged, not advanced.
	if earn, ok := RuleFor(types.StageEarn); ok && types.StageEarn >= current+2 {
		if earn.matches(lower) {
			result.TooPushy = true
			result.Deterministic = true
			return result
		}
	}

	// Doing the current stage's work completes it. Speaking in the next
	// stage's terms shows the trainee has already moved on. Either way
	// the stage advances by exactly one; at the final stage it holds.
	if cur, ok := RuleFor(current); ok && cur.matches(lower) {
		result.Behaviors = append(result.Behaviors, cur.Behavior)
		result.Deterministic = true
		if current < types.MaxStage {
			result.Stage = current + 1
			result.Advanced = true
		}
		return result
	}
	if current < types.MaxStage {
		if next, ok := RuleFor(current + 1); ok && next.matches(lower) {
			result.Stage = current + 1
			result.Advanced = true
			result.Behaviors = append(result.Behaviors, next.Behavior)
			result.Deterministic = true
			return result
		}
	}

	if a.model == nil {
		return result
	}

	stage, behaviors, err := a.modelPass(ctx, current, utterance, history)
	if err != nil {
		a.logger.Warn("stage model pass failed, holding stage",
			"stage", int(current), "error", err)
		return result
	}

	// The model may only confirm the current stage or advance by one.
	// Anything else is clamped and logged.
	if stage < current || stage > current+1 {
		a.logger.Error("stage model returned out-of-bounds stage",
			"current", int(current), "returned", int(stage))
		if stage < current {
			stage = current
		} else {
			stage = current + 1
		}
	}
	result.Stage = stage
	result.Advanced = stage > current
	result.Behaviors = behaviors
	return result
}

type modelVerdict struct {
	Stage     int      `json:"stage"`
	Behaviors []string `json:"behaviors"`
}

func (a *Analyzer) modelPass(ctx context.Context, current types.Stage, utterance string, history []string) (types.Stage, []string, error) {
	system := fmt.Sprintf(`You grade a sales trainee's utterance against the PULSE framework.

%s
The trainee is currently at stage %d (%s). Decide whether this utterance
completes the work of stage %d, justifying a move to stage %d. Never move
more than one stage.

Respond with a JSON object: {"stage": <%d or %d>, "behaviors": [<short labels>]}`,
		PromptRubric(), int(current), current.Name(), int(current), int(current)+1,
		int(current), int(current)+1)

	var user strings.Builder
	if len(history) > 0 {
		user.WriteString("Earlier trainee turns:\n")
		start := 0
		if len(history) > 5 {
			start = len(history) - 5
		}
		for _, h := range history[start:] {
			user.WriteString("- " + h + "\n")
		}
		user.WriteString("\n")
	}
	user.WriteString("Current utterance: " + utterance)

	raw, err := a.model.CompleteJSON(ctx, system, user.String())
	if err != nil {
		return current, nil, err
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return current, nil, fmt.Errorf("parse stage verdict: %w", err)
	}
	return types.Stage(verdict.Stage), verdict.Behaviors, nil
}
