// Package session owns the training-session state: it runs the turn
// pipeline (analyze, score, respond) and produces the end-of-session
// scorecard.
package session

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/pulse"
	"github.com/coachsim/pulse/pkg/core/trust"
	"github.com/coachsim/pulse/pkg/core/types"
)

// Analyzer classifies one utterance onto the PULSE scale.
type Analyzer interface {
	Analyze(ctx context.Context, current types.Stage, utterance string, history []string) pulse.Analysis
}

// Scorer turns one observed trainee turn into a trust assessment.
type Scorer interface {
	Score(obs trust.Observation) trust.Assessment
}

// Responder generates the persona's reply.
type Responder interface {
	Respond(ctx context.Context, req persona.Request) persona.Reply
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Analyzer  Analyzer
	Scorer    Scorer
	Responder Responder
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Orchestrator is the single writer of session state. Utterances for the
// same session are processed strictly in submission order.
type Orchestrator struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	mu      sync.Mutex // serializes turns for this session
	session *types.Session
	// stalledBySkip remembers whether the last stall came from a skip
	// attempt, for feedback only.
	skipAttempts int
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string {
			return "sess_" + ulid.MustNew(ulid.Now(), rand.Reader).String()
		}
	}
	return &Orchestrator{
		deps:     deps,
		sessions: make(map[string]*sessionState),
	}
}

// Start creates a session for the given persona and returns it with the
// persona profile (intro line included) for the caller to render.
func (o *Orchestrator) Start(personaType persona.Type) (*types.Session, persona.Profile) {
	profile := persona.Lookup(personaType)
	s := &types.Session{
		ID:           o.deps.NewID(),
		PersonaType:  string(profile.Type),
		CreatedAt:    o.deps.Now(),
		CurrentStage: types.StageProbe,
		TrustScore:   trust.InitialTrust,
		SaleOutcome:  types.OutcomeInProgress,
	}
	o.mu.Lock()
	o.sessions[s.ID] = &sessionState{session: s}
	o.mu.Unlock()

	o.deps.Logger.Info("session started",
		"session", s.ID, "persona", s.PersonaType)
	return snapshot(s), profile
}

// Get returns a snapshot of the session.
func (o *Orchestrator) Get(id string) (*types.Session, error) {
	st, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st.session), nil
}

// SubmitUtterance runs one trainee turn through the pipeline: append the
// turn, classify the stage, score trust, resolve the outcome, generate
// the persona reply, and append it. Interrupted marks a barge-in.
func (o *Orchestrator) SubmitUtterance(ctx context.Context, id, text string, interrupted bool) (*types.TurnResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, core.NewInvalidRequestErrorWithParam("utterance must not be empty", "text")
	}
	st, err := o.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.session

	priorTrainee := s.TraineeTexts()
	lastPersona := ""
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == types.RolePersona {
			lastPersona = s.Turns[i].Text
			break
		}
	}

	turnIndex := len(s.Turns)
	s.Turns = append(s.Turns, types.ConversationTurn{
		Index:     turnIndex,
		Role:      types.RoleTrainee,
		Text:      trimmed,
		Timestamp: o.deps.Now(),
	})

	analysis := o.deps.Analyzer.Analyze(ctx, s.CurrentStage, trimmed, priorTrainee)
	if analysis.Stage < s.CurrentStage || analysis.Stage > s.CurrentStage+1 {
		// The analyzer already bounds its result; anything else here is
		// a defect. Clamp and keep going.
		o.deps.Logger.Error("stage analysis out of bounds",
			"session", s.ID, "current", int(s.CurrentStage), "analyzed", int(analysis.Stage))
		if analysis.Stage < s.CurrentStage {
			analysis.Stage = s.CurrentStage
		} else {
			analysis.Stage = s.CurrentStage + 1
		}
	}

	assessment := o.deps.Scorer.Score(trust.Observation{
		Utterance:         trimmed,
		Analysis:          analysis,
		Stage:             s.CurrentStage,
		TurnIndex:         turnIndex,
		Interrupted:       interrupted,
		LastPersonaText:   lastPersona,
		PriorTraineeTexts: priorTrainee,
	})

	prevOutcome := s.SaleOutcome
	prevTrust := s.TrustScore
	s.CurrentStage = analysis.Stage
	s.TrustScore = types.ClampTrust(s.TrustScore + assessment.Delta)
	s.Missteps = append(s.Missteps, assessment.Missteps...)
	if assessment.StageSkipAttempt {
		st.skipAttempts++
	}

	s.SaleOutcome = trust.Resolve(prevOutcome, trust.View{
		Stage:            s.CurrentStage,
		Trust:            s.TrustScore,
		MinorMissteps:    s.MinorMisstepCount(),
		CriticalMisstep:  s.HasCriticalMisstep(),
		StageSkipAttempt: assessment.StageSkipAttempt,
		TooPushy:         analysis.TooPushy,
	})
	if prevOutcome.Terminal() && (len(assessment.Missteps) > 0 || assessment.Delta != 0) {
		// Settled sales keep being scored for feedback; the outcome
		// itself no longer moves.
		o.deps.Logger.Info("turn scored after terminal outcome",
			"session", s.ID, "outcome", string(s.SaleOutcome), "delta", assessment.Delta)
	}

	register := trust.Register(s.TrustScore, s.TrustScore-prevTrust)
	reply := o.deps.Responder.Respond(ctx, persona.Request{
		Persona:   persona.Type(s.PersonaType),
		Utterance: trimmed,
		History:   s.Turns[:len(s.Turns)-1],
		Stage:     s.CurrentStage,
		Trust:     s.TrustScore,
		Hint:      assessment.Hint,
		Register:  register,
	})

	s.Turns = append(s.Turns, types.ConversationTurn{
		Index:         len(s.Turns),
		Role:          types.RolePersona,
		Text:          reply.Text,
		Timestamp:     o.deps.Now(),
		DetectedStage: s.CurrentStage,
		TrustDelta:    s.TrustScore - prevTrust,
		Emotion:       reply.Emotion,
	})

	o.deps.Logger.Info("turn processed",
		"session", s.ID,
		"stage", int(s.CurrentStage),
		"trust", s.TrustScore,
		"delta", assessment.Delta,
		"outcome", string(s.SaleOutcome),
		"missteps", len(assessment.Missteps),
		"fallbackReply", reply.Fallback,
	)

	categories := make([]string, 0, len(assessment.Missteps))
	for _, m := range assessment.Missteps {
		categories = append(categories, m.Category)
	}

	return &types.TurnResult{
		Response:         reply.Text,
		Emotion:          reply.Emotion,
		Stage:            s.CurrentStage,
		StageName:        s.CurrentStage.Name(),
		TrustScore:       s.TrustScore,
		SaleOutcome:      s.SaleOutcome,
		Feedback:         outcomeFeedback(s.SaleOutcome),
		Behaviors:        analysis.Behaviors,
		MisstepsThisTurn: categories,
		TotalMissteps:    len(s.Missteps),
	}, nil
}

// Complete finalizes the session: it computes the scorecard, removes the
// session from the active set, and returns the summary.
func (o *Orchestrator) Complete(id string) (*Summary, error) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if !ok {
		return nil, core.NewNotFoundError("session not found: " + id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	summary := buildSummary(st.session)
	o.deps.Logger.Info("session completed",
		"session", id,
		"stage", int(st.session.CurrentStage),
		"trust", st.session.TrustScore,
		"outcome", string(st.session.SaleOutcome),
		"overall", summary.Overall.Score,
	)
	return summary, nil
}

// ActiveCount reports how many sessions are live.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *Orchestrator) lookup(id string) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[id]
	if !ok {
		return nil, core.NewNotFoundError("session not found: " + id)
	}
	return st, nil
}

func outcomeFeedback(outcome types.SaleOutcome) string {
	switch outcome {
	case types.OutcomeWon:
		return "Congratulations! You successfully landed the sale!"
	case types.OutcomeLost:
		return "The customer has decided to leave. Review your approach and try again."
	case types.OutcomeStalled:
		return "The customer is hesitating. You may need to rebuild trust or address concerns."
	default:
		return ""
	}
}

// snapshot copies the session so callers cannot mutate orchestrator
// state behind its back.
func snapshot(s *types.Session) *types.Session {
	out := *s
	out.Missteps = append([]types.Misstep(nil), s.Missteps...)
	out.Turns = append([]types.ConversationTurn(nil), s.Turns...)
	return &out
}
