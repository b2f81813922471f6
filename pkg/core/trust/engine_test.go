package trust

import (
	"testing"

	"github.com/coachsim/pulse/pkg/core/pulse"
	"github.com/coachsim/pulse/pkg/core/types"
)

func TestScoreRewardsBehaviors(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name      string
		behaviors []string
		want      int
	}{
		{"discovery question", []string{"asks discovery questions"}, 1},
		{"active listening", []string{"demonstrates active listening"}, 1},
		{"feature link", []string{"connects feature to customer need"}, 1},
		{"focused recommendation", []string{"presents focused recommendation"}, 1},
		{"commitment ask", []string{"asks for commitment/next step"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(Observation{
				Utterance: "could you walk me through your current setup?",
				Stage:     types.StageSimplify,
				Analysis:  pulse.Analysis{Behaviors: tt.behaviors},
			})
			if got.Delta != tt.want {
				t.Fatalf("delta=%d, want %d", got.Delta, tt.want)
			}
			if len(got.Missteps) != 0 {
				t.Fatalf("unexpected missteps: %v", got.Missteps)
			}
		})
	}
}

func TestScoreDetectsCriticalMissteps(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name      string
		utterance string
		stage     types.Stage
		category  string
	}{
		{"early close", "Ready to buy today? You won't regret it.", types.StageProbe, CategoryPushyEarlyClose},
		{"pressure", "This is a limited time offer, you need to decide.", types.StageSimplify, CategoryPressureTactics},
		{"ignoring needs", "You should take our best seller, it's our most popular.", types.StageUnderstand, CategoryIgnoringNeeds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(Observation{Utterance: tt.utterance, Stage: tt.stage})
			found := false
			for _, m := range got.Missteps {
				if m.Category == tt.category {
					found = true
					if m.Kind != types.MisstepCritical {
						t.Fatalf("kind=%s, want critical", m.Kind)
					}
					if m.TrustDelta != -3 {
						t.Fatalf("trustDelta=%d, want -3", m.TrustDelta)
					}
				}
			}
			if !found {
				t.Fatalf("category %q not detected in %v", tt.category, got.Missteps)
			}
			if got.Hint == "" {
				t.Fatalf("expected a persona reaction hint")
			}
		})
	}
}

func TestScoreEarlyCloseOnlyBeforeSimplify(t *testing.T) {
	e := NewEngine(nil)
	got := e.Score(Observation{
		Utterance: "Ready to buy today?",
		Stage:     types.StageSimplify,
	})
	for _, m := range got.Missteps {
		if m.Category == CategoryPushyEarlyClose {
			t.Fatalf("early-close flagged at stage %d", types.StageSimplify)
		}
	}
}

func TestScoreDetectsOptionOverload(t *testing.T) {
	e := NewEngine(nil)
	got := e.Score(Observation{
		Utterance: "You could take the basic plan, or the plus plan, or the premium plan.",
		Stage:     types.StageLink,
	})
	if !hasCategory(got.Missteps, CategoryOptionOverload) {
		t.Fatalf("option overload not detected: %v", got.Missteps)
	}

	got = e.Score(Observation{
		Utterance: "You could take the basic plan or the plus plan.",
		Stage:     types.StageLink,
	})
	if hasCategory(got.Missteps, CategoryOptionOverload) {
		t.Fatalf("two options flagged as overload")
	}
}

func TestScoreDetectsRepeatAfterObjection(t *testing.T) {
	e := NewEngine(nil)
	pitch := "The premium plan gives you everything you need."
	got := e.Score(Observation{
		Utterance:         pitch,
		Stage:             types.StageLink,
		LastPersonaText:   "Honestly, that sounds too expensive for us.",
		PriorTraineeTexts: []string{"What brings you in?", pitch},
	})
	if !hasCategory(got.Missteps, CategoryRepeatAfterObjection) {
		t.Fatalf("repeat after objection not detected: %v", got.Missteps)
	}

	// A fresh answer to the objection is fine.
	got = e.Score(Observation{
		Utterance:         "That's fair. What budget range were you thinking of?",
		Stage:             types.StageLink,
		LastPersonaText:   "Honestly, that sounds too expensive for us.",
		PriorTraineeTexts: []string{"What brings you in?", pitch},
	})
	if hasCategory(got.Missteps, CategoryRepeatAfterObjection) {
		t.Fatalf("fresh response flagged as repeat")
	}
}

func TestScoreMinorMissteps(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name     string
		obs      Observation
		category string
	}{
		{
			"generic pitch",
			Observation{Utterance: "It's simply the best product on the market.", Stage: types.StageLink},
			CategoryGenericPitch,
		},
		{
			"jargon",
			Observation{Utterance: "We leverage our synergy in a turnkey solution.", Stage: types.StageLink},
			CategoryJargon,
		},
		{
			"interrupting",
			Observation{Utterance: "Let me stop you right there.", Stage: types.StageLink, Interrupted: true},
			CategoryInterrupting,
		},
		{
			"skipped discovery",
			Observation{Utterance: "Let me tell you about our product and all it does.", Stage: types.StageProbe},
			CategorySkippedDiscovery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(tt.obs)
			found := false
			for _, m := range got.Missteps {
				if m.Category == tt.category {
					found = true
					if m.Kind != types.MisstepMinor {
						t.Fatalf("kind=%s, want minor", m.Kind)
					}
					if m.TrustDelta != -1 {
						t.Fatalf("trustDelta=%d, want -1", m.TrustDelta)
					}
				}
			}
			if !found {
				t.Fatalf("category %q not detected in %v", tt.category, got.Missteps)
			}
		})
	}
}

func TestScoreStageSkipPenalty(t *testing.T) {
	e := NewEngine(nil)
	got := e.Score(Observation{
		Utterance: "Shall we proceed and get this scheduled?",
		Stage:     types.StageProbe,
		Analysis:  pulse.Analysis{TooPushy: true},
	})
	if !got.StageSkipAttempt {
		t.Fatalf("expected StageSkipAttempt")
	}
	if got.Delta != -2 {
		t.Fatalf("delta=%d, want -2", got.Delta)
	}
	// The skip attempt is an outcome signal, not a ledger entry.
	if len(got.Missteps) != 0 {
		t.Fatalf("unexpected ledger entries: %v", got.Missteps)
	}
}

func TestScoreCountsEachCategoryOncePerTurn(t *testing.T) {
	e := NewEngine(nil)
	got := e.Score(Observation{
		Utterance: "Act now, don't wait, this is a limited time offer and you must decide.",
		Stage:     types.StageLink,
	})
	n := 0
	for _, m := range got.Missteps {
		if m.Category == CategoryPressureTactics {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("pressure_tactics counted %d times, want 1", n)
	}
}

func hasCategory(missteps []types.Misstep, category string) bool {
	for _, m := range missteps {
		if m.Category == category {
			return true
		}
	}
	return false
}
