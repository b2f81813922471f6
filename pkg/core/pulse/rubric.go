// Package pulse analyzes trainee utterances against the PULSE selling
// framework (Probe, Understand, Link, Simplify, Earn) and decides stage
// advancement.
package pulse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coachsim/pulse/pkg/core/types"
)

// StageRule describes one PULSE stage: what the trainee should be doing,
// the lexical patterns that signal it, and the behavior label reported
// when a pattern matches. The same table drives the deterministic pass
// and the model-pass prompt so the two can never drift apart.
type StageRule struct {
	Stage       types.Stage
	Name        string
	Description string
	Indicators  []string
	Patterns    []*regexp.Regexp
	Behavior    string

	// RequiresQuestion rejects matches that carry no question mark.
	// Discovery phrasing without an actual question is not probing.
	RequiresQuestion bool
}

// Rubric is the ordered PULSE rubric, index i holding stage i+1.
var Rubric = []StageRule{
	{
		Stage:       types.StageProbe,
		Name:        "Probe",
		Description: "Ask open-ended questions to understand customer needs",
		Indicators: []string{
			"asks discovery questions",
			"explores the customer's situation",
			"avoids an immediate product pitch",
		},
		Patterns: compile(
			`what (brings|brought) you`,
			`(tell|talk) me (about|more)`,
			`how (do|does|can|would)`,
			`what (are|is) (your|the)`,
			`(could|can|would) you (tell|describe|explain)`,
			`what.*\?`,
			`how.*\?`,
			`why.*\?`,
		),
		Behavior:         "asks discovery questions",
		RequiresQuestion: true,
	},
	{
		Stage:       types.StageUnderstand,
		Name:        "Understand",
		Description: "Reflect back and confirm understanding of customer needs",
		Indicators: []string{
			"paraphrases customer needs",
			"uses reflection phrases",
			"confirms understanding",
		},
		Patterns: compile(
			`so (you're|you are|you) (saying|looking|wanting|need)`,
			`(it )?sounds like`,
			`(i )?hear (that|you)`,
			`(let me |to )?make sure i (understand|got|have)`,
			`(you mentioned|you said|you told me)`,
			`if i (understand|heard) (you )?(correctly|right)`,
			`what i('m| am) hearing is`,
		),
		Behavior: "demonstrates active listening",
	},
	{
		Stage:       types.StageLink,
		Name:        "Link",
		Description: "Connect product features to stated customer needs",
		Indicators: []string{
			"references the customer's stated needs",
			"explains how a feature addresses a need",
			"uses the customer's language",
		},
		Patterns: compile(
			`(since|because) you (said|mentioned|told|need)`,
			`based on what you (said|mentioned|told|shared)`,
			`that's (why|exactly why)`,
			`(this|that|our|the) .*(will|can|helps?|addresses|solves)`,
			`for (your|someone with your|people who)`,
			`given (what you|your)`,
		),
		Behavior: "connects feature to customer need",
	},
	{
		Stage:       types.StageSimplify,
		Name:        "Simplify",
		Description: "Narrow options and explain trade-offs clearly",
		Indicators: []string{
			"presents a focused recommendation",
			"reduces complexity",
			"explains trade-offs simply",
		},
		Patterns: compile(
			`i('d| would) recommend`,
			`my recommendation (is|would be)`,
			`the best (option|choice|fit|solution) (for you|would be)`,
			`(compared to|the difference between)`,
			`(simpler|easier|straightforward|simple)`,
			`(one|single|specific) (option|recommendation|solution)`,
			`to (simplify|make it easy|keep it simple)`,
		),
		Behavior: "presents focused recommendation",
	},
	{
		Stage:       types.StageEarn,
		Name:        "Earn",
		Description: "Make a clear recommendation and ask for commitment",
		Indicators: []string{
			"asks for the next step",
			"proposes a specific action",
			"requests a commitment or decision",
		},
		Patterns: compile(
			`would you like to`,
			`shall we (proceed|move forward|get started|schedule)`,
			`(are you )?ready to`,
			`let's (schedule|set up|get started|proceed|do this)`,
			`can i (set|schedule|book|get) (that|this|you)`,
			`does that (work|sound good) for you`,
			`(want|like) to (try|test|demo|see)`,
			`what do you (think|say)\?`,
		),
		Behavior: "asks for commitment/next step",
	},
}

// RuleFor returns the rubric rule for the given stage.
func RuleFor(stage types.Stage) (StageRule, bool) {
	for _, r := range Rubric {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageRule{}, false
}

// matches reports whether the lowercased utterance satisfies the rule.
func (r StageRule) matches(lower string) bool {
	if r.RequiresQuestion && !strings.Contains(lower, "?") {
		return false
	}
	for _, p := range r.Patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// PromptRubric renders the rubric for the model-pass system prompt.
// Generated from the same table the deterministic pass matches against.
func PromptRubric() string {
	var b strings.Builder
	for _, r := range Rubric {
		fmt.Fprintf(&b, "Stage %d - %s: %s. Indicators: %s.\n",
			int(r.Stage), r.Name, r.Description, strings.Join(r.Indicators, "; "))
	}
	return b.String()
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
