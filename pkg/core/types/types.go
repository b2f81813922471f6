// Package types defines the data model shared across the training-session
// core: the session record, conversation turns, the PULSE stage scale, the
// misstep ledger, and the sale outcome.
package types

import (
	"time"
)

// Stage is a position on the PULSE scale (1..5).
type Stage int

const (
	StageProbe      Stage = 1
	StageUnderstand Stage = 2
	StageLink       Stage = 3
	StageSimplify   Stage = 4
	StageEarn       Stage = 5
)

// MinStage and MaxStage bound the PULSE scale.
const (
	MinStage = StageProbe
	MaxStage = StageEarn
)

var stageNames = map[Stage]string{
	StageProbe:      "Probe",
	StageUnderstand: "Understand",
	StageLink:       "Link",
	StageSimplify:   "Simplify",
	StageEarn:       "Earn",
}

// Name returns the display name of the stage, or "Unknown" when out of range.
func (s Stage) Name() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether the stage is on the PULSE scale.
func (s Stage) Valid() bool {
	return s >= MinStage && s <= MaxStage
}

// SaleOutcome classifies the state of the simulated sale.
type SaleOutcome string

const (
	OutcomeInProgress SaleOutcome = "in_progress"
	OutcomeWon        SaleOutcome = "won"
	OutcomeLost       SaleOutcome = "lost"
	OutcomeStalled    SaleOutcome = "stalled"
)

// Terminal reports whether the outcome can no longer change.
// Stalled sessions may recover; won/lost sessions are settled.
func (o SaleOutcome) Terminal() bool {
	return o == OutcomeWon || o == OutcomeLost
}

// Emotion is the persona's emotional register as rendered by the avatar.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionInterested Emotion = "interested"
	EmotionSkeptical  Emotion = "skeptical"
	EmotionPleased    Emotion = "pleased"
	EmotionConcerned  Emotion = "concerned"
	EmotionExcited    Emotion = "excited"
	EmotionHesitant   Emotion = "hesitant"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleTrainee Role = "trainee"
	RolePersona Role = "persona"
)

// MisstepKind classifies how damaging a misstep is.
type MisstepKind string

const (
	MisstepMinor    MisstepKind = "minor"
	MisstepCritical MisstepKind = "critical"
)

// Misstep is one trust-damaging trainee behavior. Missteps accumulate in
// the session ledger and are never removed within a session.
type Misstep struct {
	Kind       MisstepKind `json:"kind"`
	Category   string      `json:"category"`
	TurnIndex  int         `json:"turnIndex"`
	TrustDelta int         `json:"trustDelta"`
	Hint       string      `json:"hint,omitempty"`
}

// ConversationTurn is one utterance in the session transcript. Turns are
// append-only and immutable once recorded.
type ConversationTurn struct {
	Index         int       `json:"index"`
	Role          Role      `json:"role"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	DetectedStage Stage     `json:"detectedStage,omitempty"`
	TrustDelta    int       `json:"trustDelta,omitempty"`
	Emotion       Emotion   `json:"emotion,omitempty"`
}

// Session is the full state of one training session. It is owned and
// mutated exclusively by the session orchestrator.
type Session struct {
	ID           string             `json:"id"`
	PersonaType  string             `json:"personaType"`
	CreatedAt    time.Time          `json:"createdAt"`
	CurrentStage Stage              `json:"currentStage"`
	TrustScore   int                `json:"trustScore"`
	Missteps     []Misstep          `json:"missteps"`
	SaleOutcome  SaleOutcome        `json:"saleOutcome"`
	Turns        []ConversationTurn `json:"turns"`
}

// MinorMisstepCount counts accumulated minor missteps.
func (s *Session) MinorMisstepCount() int {
	n := 0
	for _, m := range s.Missteps {
		if m.Kind == MisstepMinor {
			n++
		}
	}
	return n
}

// HasCriticalMisstep reports whether any critical misstep has occurred.
func (s *Session) HasCriticalMisstep() bool {
	for _, m := range s.Missteps {
		if m.Kind == MisstepCritical {
			return true
		}
	}
	return false
}

// TraineeTexts returns the trainee-side transcript in order.
func (s *Session) TraineeTexts() []string {
	out := make([]string, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.Role == RoleTrainee {
			out = append(out, t.Text)
		}
	}
	return out
}

// LastTurn returns the most recent turn, or nil for an empty transcript.
func (s *Session) LastTurn() *ConversationTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// TurnResult is the combined per-utterance payload returned to the caller
// for playback: the persona's reply plus the updated grading state.
type TurnResult struct {
	Response          string      `json:"response"`
	Emotion           Emotion     `json:"emotion"`
	Stage             Stage       `json:"stage"`
	StageName         string      `json:"stageName"`
	TrustScore        int         `json:"trustScore"`
	SaleOutcome       SaleOutcome `json:"saleOutcome"`
	Feedback          string      `json:"feedback,omitempty"`
	Behaviors         []string    `json:"behaviors,omitempty"`
	MisstepsThisTurn  []string    `json:"misstepsThisTurn,omitempty"`
	TotalMissteps     int         `json:"totalMissteps"`
	AvatarUnavailable bool        `json:"avatarUnavailable,omitempty"`
}

// ClampTrust bounds a trust score into [0, 10].
func ClampTrust(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}
