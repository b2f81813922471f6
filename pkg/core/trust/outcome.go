package trust

import (
	"github.com/coachsim/pulse/pkg/core/types"
)

// Outcome thresholds.
const (
	// WinTrust is the minimum trust for a win at the final stage.
	WinTrust = 8
	// LossTrust is the trust floor; at or below it the sale is lost.
	LossTrust = 2
	// LostMinorCount is the number of minor missteps that loses the sale.
	LostMinorCount = 3
)

// View is the session state the outcome decision reads.
type View struct {
	Stage            types.Stage
	Trust            int
	MinorMissteps    int
	CriticalMisstep  bool
	StageSkipAttempt bool
	TooPushy         bool
}

// Resolve computes the sale outcome after a turn. Won and lost are
// terminal: once reached, the outcome never changes. Stalled sessions
// can recover to in_progress or decay further.
func Resolve(prev types.SaleOutcome, v View) types.SaleOutcome {
	if prev.Terminal() {
		return prev
	}

	if v.CriticalMisstep || v.MinorMissteps >= LostMinorCount || v.Trust <= LossTrust {
		return types.OutcomeLost
	}

	if v.Stage >= types.StageEarn && v.Trust >= WinTrust {
		return types.OutcomeWon
	}

	// A push to skip ahead stalls the customer while trust is middling.
	// Very low trust already lost above; high trust shrugs it off.
	if (v.StageSkipAttempt || v.TooPushy) && v.Trust >= 3 && v.Trust <= 7 {
		return types.OutcomeStalled
	}

	// Reaching the final stage without winning trust also stalls.
	if v.Stage >= types.StageEarn && v.Trust < WinTrust {
		return types.OutcomeStalled
	}

	return types.OutcomeInProgress
}

// Register maps the trust level and the latest trust movement to the
// persona's emotional register, used when the reply itself carries no
// stronger signal.
func Register(trust, lastDelta int) types.Emotion {
	switch {
	case trust >= 8:
		return types.EmotionPleased
	case trust <= 2:
		return types.EmotionConcerned
	case lastDelta < 0 && trust <= 4:
		return types.EmotionSkeptical
	case lastDelta < 0:
		return types.EmotionHesitant
	case lastDelta > 0:
		return types.EmotionInterested
	default:
		return types.EmotionNeutral
	}
}
