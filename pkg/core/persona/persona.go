// Package persona defines the customer personas the trainee sells to and
// generates their in-character replies.
package persona

import (
	"strings"

	"github.com/coachsim/pulse/pkg/core/types"
)

// Type identifies a customer persona on the Platinum Rule behavioral
// style scale.
type Type string

const (
	Director   Type = "Director"
	Relater    Type = "Relater"
	Socializer Type = "Socializer"
	Thinker    Type = "Thinker"
)

// DefaultType is used when a session names no persona or an unknown one.
const DefaultType = Relater

// Profile is everything the session needs to render one persona: how it
// talks, how it sounds, and how it opens the conversation.
type Profile struct {
	Type        Type
	DisplayName string
	Description string
	Traits      string

	// Avatar rendering. Character and Style select the streaming avatar;
	// Voice and VoiceStyle select the neural voice.
	Character  string
	Style      string
	Voice      string
	VoiceStyle string

	IntroLine      string
	DefaultEmotion types.Emotion
	FallbackLine   string
}

var profiles = map[Type]Profile{
	Director: {
		Type:           Director,
		DisplayName:    "The Director",
		Description:    "Professional business executive, confident and direct",
		Traits:         "Direct, results-oriented, impatient, values efficiency and bottom-line results",
		Character:      "lisa",
		Style:          "casual-sitting",
		Voice:          "en-US-JennyNeural",
		VoiceStyle:     "customerservice",
		IntroLine:      "Hello. I'm here to look at your products. Let's get started.",
		DefaultEmotion: types.EmotionNeutral,
		FallbackLine:   "Let's keep this moving. What else do you have for me?",
	},
	Relater: {
		Type:           Relater,
		DisplayName:    "The Relater",
		Description:    "Warm friendly person, patient and empathetic",
		Traits:         "Warm, patient, relationship-focused, values trust and personal connection",
		Character:      "lisa",
		Style:          "casual-sitting",
		Voice:          "en-US-SaraNeural",
		VoiceStyle:     "friendly",
		IntroLine:      "Hi there! I've been thinking about making a purchase and wanted to chat.",
		DefaultEmotion: types.EmotionInterested,
		FallbackLine:   "Sorry, I lost my train of thought there. Could you say that again?",
	},
	Socializer: {
		Type:           Socializer,
		DisplayName:    "The Socializer",
		Description:    "Energetic expressive person, enthusiastic and engaging",
		Traits:         "Enthusiastic, talkative, optimistic, values recognition and social interaction",
		Character:      "lisa",
		Style:          "casual-sitting",
		Voice:          "en-US-AriaNeural",
		VoiceStyle:     "cheerful",
		IntroLine:      "Hey! I'm so excited to be here! I've heard great things about you!",
		DefaultEmotion: types.EmotionExcited,
		FallbackLine:   "Oh wow, sorry, I totally spaced out! What were you saying?",
	},
	Thinker: {
		Type:           Thinker,
		DisplayName:    "The Thinker",
		Description:    "Thoughtful analytical person, careful and methodical",
		Traits:         "Analytical, detail-oriented, cautious, values accuracy and logical reasoning",
		Character:      "lisa",
		Style:          "casual-sitting",
		Voice:          "en-US-MichelleNeural",
		VoiceStyle:     "calm",
		IntroLine:      "Good afternoon. I've done some research and have a few questions.",
		DefaultEmotion: types.EmotionNeutral,
		FallbackLine:   "Give me a moment to think that over. Could you rephrase it?",
	},
}

// Lookup returns the profile for a persona type, falling back to the
// default persona for unknown values.
func Lookup(t Type) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[DefaultType]
}

// Valid reports whether the persona type is one of the known four.
func Valid(t Type) bool {
	_, ok := profiles[t]
	return ok
}

// Types lists the known persona types.
func Types() []Type {
	return []Type{Director, Relater, Socializer, Thinker}
}

// expressionStyles maps the persona's emotional register to the neural
// voice expression style used in synthesis markup.
var expressionStyles = map[types.Emotion]string{
	types.EmotionNeutral:    "neutral",
	types.EmotionInterested: "friendly",
	types.EmotionSkeptical:  "unfriendly",
	types.EmotionPleased:    "cheerful",
	types.EmotionConcerned:  "empathetic",
	types.EmotionExcited:    "excited",
	types.EmotionHesitant:   "shy",
}

// ExpressionStyle returns the voice expression style for an emotion.
func ExpressionStyle(e types.Emotion) string {
	if s, ok := expressionStyles[e]; ok {
		return s
	}
	return "neutral"
}

// InferEmotion reads the persona's emotional register off its own reply.
// Falls back to the register derived from the trust level when the text
// carries no signal.
func InferEmotion(response string, fallback types.Emotion) types.Emotion {
	lower := strings.ToLower(response)
	switch {
	case containsAny(lower, "great", "excellent", "perfect", "love"):
		return types.EmotionPleased
	case containsAny(lower, "hmm", "not sure", "concern", "worry"):
		return types.EmotionConcerned
	case containsAny(lower, "really", "wow", "amazing", "exciting"):
		return types.EmotionExcited
	case containsAny(lower, "but ", "however", "price", "expensive"):
		return types.EmotionSkeptical
	case containsAny(lower, "tell me more", "interested", "sounds good"):
		return types.EmotionInterested
	default:
		return fallback
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
