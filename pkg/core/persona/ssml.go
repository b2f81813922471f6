package persona

import (
	"fmt"
	"strings"

	"github.com/coachsim/pulse/pkg/core/types"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// BuildSSML renders the speech markup for one persona reply: voice
// selection, expression style for the emotion, and the escaped text.
// Consumed by the avatar transport and the synthesis fallback alike.
func BuildSSML(p Profile, emotion types.Emotion, text string) string {
	style := ExpressionStyle(emotion)
	if style == "neutral" {
		// Outside an emotional register the persona's own voice style
		// carries the delivery.
		style = p.VoiceStyle
	}
	return fmt.Sprintf(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="http://www.w3.org/2001/mstts" xml:lang="en-US"><voice name="%s"><mstts:express-as style="%s">%s</mstts:express-as></voice></speak>`,
		p.Voice, style, xmlEscaper.Replace(text))
}
