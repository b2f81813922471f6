package session

import (
	"fmt"
	"math"
	"strings"

	"github.com/coachsim/pulse/pkg/core/types"
)

// Competency is one graded dimension of the scorecard, on a 0-3 scale.
type Competency struct {
	Score   float64 `json:"score"`
	Passed  bool    `json:"passed"`
	Summary string  `json:"summary"`
}

// Overall is the aggregate grade, expressed as a percentage.
type Overall struct {
	Score    int     `json:"score"`
	RawScore float64 `json:"rawScore"`
	Passed   bool    `json:"passed"`
}

// Details carries the raw session facts behind the grades.
type Details struct {
	FinalStage     types.Stage       `json:"finalStage"`
	StageName      string            `json:"stageName"`
	TrustScore     int               `json:"trustScore"`
	SaleOutcome    types.SaleOutcome `json:"saleOutcome"`
	Missteps       []string          `json:"missteps"`
	TotalExchanges int               `json:"totalExchanges"`
}

// Summary is the end-of-session scorecard. Behavioral mastery grades
// stage progression, methodology fidelity grades trust kept and
// missteps avoided, and conversion grades the sale outcome.
type Summary struct {
	SessionID  string     `json:"sessionId"`
	Overall    Overall    `json:"overall"`
	Behavioral Competency `json:"bce"`
	Fidelity   Competency `json:"mcf"`
	Conversion Competency `json:"cpo"`
	Details    Details    `json:"pulseDetails"`
	Transcript []string   `json:"transcript"`
}

const passThresholdPct = 70

func buildSummary(s *types.Session) *Summary {
	stage := s.CurrentStage
	if stage < types.StageProbe {
		stage = types.StageProbe
	}

	// Behavioral mastery tracks stage progression linearly onto 0-3.
	bceScore := float64(stage-1) * 0.75
	bce := Competency{
		Score:   round2(bceScore),
		Passed:  stage >= types.StageSimplify,
		Summary: behavioralSummary(stage),
	}

	// Methodology fidelity starts from the trust band and loses half a
	// point per misstep, capped at 1.5.
	var mcfBase float64
	switch {
	case s.TrustScore <= 3:
		mcfBase = 0
	case s.TrustScore <= 5:
		mcfBase = 1
	case s.TrustScore <= 7:
		mcfBase = 2
	default:
		mcfBase = 3
	}
	penalty := math.Min(float64(len(s.Missteps))*0.5, 1.5)
	mcfScore := math.Max(0, mcfBase-penalty)
	mcf := Competency{
		Score:   round2(mcfScore),
		Passed:  mcfScore >= 2,
		Summary: fidelitySummary(s.TrustScore, misstepNames(s.Missteps)),
	}

	cpoScore, cpoPassed, cpoSummary := conversionGrade(s.SaleOutcome)
	cpo := Competency{Score: round2(cpoScore), Passed: cpoPassed, Summary: cpoSummary}

	raw := (bceScore + mcfScore + cpoScore) / 3
	pct := int(math.Round(raw / 3 * 100))

	transcript := make([]string, 0, len(s.Turns))
	exchanges := 0
	for _, turn := range s.Turns {
		speaker := "Customer"
		if turn.Role == types.RoleTrainee {
			speaker = "Trainee"
			exchanges++
		}
		transcript = append(transcript, speaker+": "+turn.Text)
	}

	return &Summary{
		SessionID:  s.ID,
		Overall:    Overall{Score: pct, RawScore: round2(raw), Passed: pct >= passThresholdPct},
		Behavioral: bce,
		Fidelity:   mcf,
		Conversion: cpo,
		Details: Details{
			FinalStage:     stage,
			StageName:      stage.Name(),
			TrustScore:     s.TrustScore,
			SaleOutcome:    s.SaleOutcome,
			Missteps:       misstepNames(s.Missteps),
			TotalExchanges: exchanges,
		},
		Transcript: transcript,
	}
}

func behavioralSummary(stage types.Stage) string {
	out := fmt.Sprintf("Reached PULSE stage %d (%s)", int(stage), stage.Name())
	switch {
	case stage < types.StageLink:
		return out + ". Need to progress further through discovery and understanding."
	case stage < types.StageEarn:
		return out + ". Good progress, but didn't complete the full PULSE cycle."
	default:
		return out + ". Excellent! Completed all PULSE stages."
	}
}

func fidelitySummary(trust int, missteps []string) string {
	if len(missteps) == 0 {
		return fmt.Sprintf("Trust score: %d/10. No missteps detected.", trust)
	}
	return fmt.Sprintf("Trust score: %d/10. Missteps: %s.", trust, strings.Join(missteps, ", "))
}

func conversionGrade(outcome types.SaleOutcome) (score float64, passed bool, summary string) {
	switch outcome {
	case types.OutcomeWon:
		return 3, true, "Successfully closed the sale!"
	case types.OutcomeStalled:
		return 1.5, false, "Customer hesitated. Sale not completed but not lost."
	case types.OutcomeLost:
		return 0, false, "Customer walked away. Review approach and try again."
	default:
		return 1, false, "Session ended before reaching a conclusion."
	}
}

func misstepNames(missteps []types.Misstep) []string {
	names := make([]string, 0, len(missteps))
	for _, m := range missteps {
		names = append(names, strings.ReplaceAll(m.Category, "_", " "))
	}
	return names
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
