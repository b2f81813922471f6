// Package trust scores trainee behavior into a customer trust level,
// keeps the misstep ledger, and resolves the sale outcome.
package trust

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/coachsim/pulse/pkg/core/pulse"
	"github.com/coachsim/pulse/pkg/core/types"
)

// InitialTrust is the trust score every session starts at.
const InitialTrust = 5

// Trust deltas. Behavior rewards are keyed off the analyzer's labels;
// penalties are attached to the misstep that caused them.
const (
	deltaBehavior      = 1
	deltaCommitmentAsk = 2
	deltaMinor         = -1
	deltaStageSkip     = -2
	deltaCritical      = -3
)

// Critical misstep categories.
const (
	CategoryPushyEarlyClose      = "pushy_early_close"
	CategoryPressureTactics      = "pressure_tactics"
	CategoryIgnoringNeeds        = "ignoring_needs"
	CategoryOptionOverload       = "option_overload"
	CategoryRepeatAfterObjection = "repeat_after_objection"
)

// Minor misstep categories.
const (
	CategorySkippedDiscovery = "skipped_discovery"
	CategoryGenericPitch     = "generic_pitch"
	CategoryJargon           = "jargon"
	CategoryInterrupting     = "interrupting"
)

type misstepRule struct {
	category string
	kind     types.MisstepKind
	delta    int
	minStage types.Stage
	maxStage types.Stage
	patterns []*regexp.Regexp
	hint     string
}

var misstepRules = []misstepRule{
	{
		category: CategoryPushyEarlyClose,
		kind:     types.MisstepCritical,
		delta:    deltaCritical,
		minStage: types.StageProbe,
		maxStage: types.StageLink,
		patterns: compile(
			`(buy|purchase|order|sign up) (now|today|right now)`,
			`(ready to|want to) (buy|purchase|order)`,
			`let's (close|finalize|complete) (this|the deal)`,
		),
		hint: "I'm not ready to make a decision yet. I still have questions.",
	},
	{
		category: CategoryPressureTactics,
		kind:     types.MisstepCritical,
		delta:    deltaCritical,
		minStage: types.StageProbe,
		maxStage: types.StageEarn,
		patterns: compile(
			`(limited time|act now|don't wait|hurry)`,
			`(you need to|you have to|you must) decide`,
			`(everyone|most people) (buys|chooses|gets)`,
			`you('ll| will) regret`,
		),
		hint: "I don't appreciate being pressured. I need to think about this.",
	},
	{
		category: CategoryIgnoringNeeds,
		kind:     types.MisstepCritical,
		delta:    deltaCritical,
		minStage: types.StageProbe,
		maxStage: types.StageUnderstand,
		patterns: compile(
			`(our best|most popular|top selling)`,
			`(you should|you need) (the|our|this)`,
		),
		hint: "That's not really what I'm looking for. Did you hear what I said?",
	},
	{
		category: CategoryGenericPitch,
		kind:     types.MisstepMinor,
		delta:    deltaMinor,
		minStage: types.StageProbe,
		maxStage: types.StageEarn,
		patterns: compile(
			`(best|greatest|leading) (product|solution|service) on the market`,
			`(industry|world).?(leading|class)`,
			`one size fits all`,
		),
		hint: "That sounds like something you'd say to anyone.",
	},
	{
		category: CategoryJargon,
		kind:     types.MisstepMinor,
		delta:    deltaMinor,
		minStage: types.StageProbe,
		maxStage: types.StageEarn,
		patterns: compile(
			`(synerg(y|ies|istic)|paradigm|leverage our|best.of.breed)`,
			`(holistic|turnkey|next.gen(eration)?) (solution|platform|offering)`,
		),
		hint: "I'm not sure what all that means in plain terms.",
	},
}

// Observation is one trainee turn as seen by the engine: the utterance,
// the stage analysis, and the surrounding session context it needs for
// history-sensitive missteps.
type Observation struct {
	Utterance string
	Analysis  pulse.Analysis
	// Stage is the session stage before this turn.
	Stage types.Stage
	// TurnIndex is the transcript index this utterance will occupy.
	TurnIndex int
	// Interrupted is set by the capture manager when the trainee spoke
	// over the persona (barge-in).
	Interrupted bool
	// LastPersonaText is the persona's most recent reply, used to detect
	// a pitch repeated straight past an objection.
	LastPersonaText string
	// PriorTraineeTexts is the trainee-side transcript so far.
	PriorTraineeTexts []string
}

// Assessment is the scored result of one observation.
type Assessment struct {
	// Delta is the total trust change for the turn, pre-clamp.
	Delta int
	// Missteps are the missteps detected this turn, penalties included.
	Missteps []types.Misstep
	// StageSkipAttempt is set when the trainee tried to jump ahead.
	StageSkipAttempt bool
	// Hint carries the first detected misstep's suggested persona
	// reaction, fed into the responder prompt.
	Hint string
}

// Engine scores observations. It is stateless; all history it needs
// arrives in the observation.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Score evaluates one trainee turn. Each misstep category counts at most
// once per turn. The returned delta is unclamped; the caller applies
// types.ClampTrust to the running score.
func (e *Engine) Score(obs Observation) Assessment {
	var out Assessment
	lower := strings.ToLower(obs.Utterance)

	for _, b := range obs.Analysis.Behaviors {
		d := deltaBehavior
		if strings.Contains(strings.ToLower(b), "commitment") {
			d = deltaCommitmentAsk
		}
		out.Delta += d
		e.logger.Debug("trust reward", "behavior", b, "delta", d)
	}

	for _, rule := range misstepRules {
		if obs.Stage < rule.minStage || obs.Stage > rule.maxStage {
			continue
		}
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				out.record(rule.category, rule.kind, rule.delta, rule.hint, obs.TurnIndex)
				e.logger.Info("misstep detected",
					"category", rule.category, "stage", int(obs.Stage), "delta", rule.delta)
				break
			}
		}
	}

	if countOptions(lower) >= 3 {
		out.record(CategoryOptionOverload, types.MisstepCritical, deltaCritical,
			"That's a lot to take in. I can't keep track of all these options.", obs.TurnIndex)
		e.logger.Info("misstep detected", "category", CategoryOptionOverload, "stage", int(obs.Stage))
	}

	if repeatsPastObjection(lower, obs.LastPersonaText, obs.PriorTraineeTexts) {
		out.record(CategoryRepeatAfterObjection, types.MisstepCritical, deltaCritical,
			"I already told you my concern and you just repeated yourself.", obs.TurnIndex)
		e.logger.Info("misstep detected", "category", CategoryRepeatAfterObjection, "stage", int(obs.Stage))
	}

	if obs.Interrupted {
		out.record(CategoryInterrupting, types.MisstepMinor, deltaMinor,
			"Please let me finish what I was saying.", obs.TurnIndex)
	}

	// Pitching at stage 1 without having asked anything is a minor
	// misstep unless it already registered as ignoring needs.
	if obs.Stage == types.StageProbe && !strings.Contains(lower, "?") &&
		looksLikePitch(lower) && !out.has(CategoryIgnoringNeeds) {
		out.record(CategorySkippedDiscovery, types.MisstepMinor, deltaMinor,
			"You haven't asked me anything about what I need yet.", obs.TurnIndex)
	}

	// Trying to jump ahead costs trust but does not enter the misstep
	// ledger. It surfaces through the outcome (stalled) instead.
	if obs.Analysis.TooPushy && !out.has(CategoryPushyEarlyClose) {
		out.StageSkipAttempt = true
		out.Delta += deltaStageSkip
		if out.Hint == "" {
			out.Hint = "Slow down. We're not there yet."
		}
	}

	return out
}

func (a *Assessment) record(category string, kind types.MisstepKind, delta int, hint string, turn int) {
	a.Delta += delta
	a.Missteps = append(a.Missteps, types.Misstep{
		Kind:       kind,
		Category:   category,
		TurnIndex:  turn,
		TrustDelta: delta,
		Hint:       hint,
	})
	if a.Hint == "" {
		a.Hint = hint
	}
}

func (a *Assessment) has(category string) bool {
	for _, m := range a.Missteps {
		if m.Category == category {
			return true
		}
	}
	return false
}

var optionWord = regexp.MustCompile(`\b(option|plan|package|tier|model|bundle)s?\b`)

// countOptions estimates how many distinct choices one utterance throws
// at the customer. Choices are counted as "or"-separated alternatives
// when option vocabulary is present.
func countOptions(lower string) int {
	if !optionWord.MatchString(lower) {
		return 0
	}
	return strings.Count(lower, " or ") + 1
}

var objectionSignal = regexp.MustCompile(
	`(too expensive|not sure|don't need|not interested|concern|hesitant|think about it|not convinced)`)

// repeatsPastObjection reports whether the trainee re-ran an earlier
// pitch right after the persona raised an objection.
func repeatsPastObjection(lower, lastPersona string, prior []string) bool {
	if lastPersona == "" || !objectionSignal.MatchString(strings.ToLower(lastPersona)) {
		return false
	}
	current := normalizeForCompare(lower)
	if current == "" {
		return false
	}
	for _, p := range prior {
		if normalizeForCompare(p) == current {
			return true
		}
	}
	return false
}

var nonWord = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeForCompare(s string) string {
	s = nonWord.ReplaceAllString(strings.ToLower(s), "")
	return strings.Join(strings.Fields(s), " ")
}

var pitchSignal = regexp.MustCompile(
	`(our|this|the) (product|solution|service|plan|platform|offer)`)

func looksLikePitch(lower string) bool {
	return pitchSignal.MatchString(lower)
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
