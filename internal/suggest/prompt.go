package suggest

import (
	"fmt"
	"strings"

	"github.com/NullWinters/GalChat/internal/models"
)

// Line is one annotated entry of a context window: the author's display
// handle, the message body, and whether the target participant wrote it.
type Line struct {
	Handle string
	Body   string
	Self   bool
}

// Prompt carries everything the provider needs for one generation call.
type Prompt struct {
	Transcript string // rendered context window, oldest-first
	LocalUser  string // handle of the participant the replies are written for
	Count      int    // number of candidates requested
}

// Perspective contract: each transcript line is "handle: body"; lines
// authored by the target participant carry a "(me)" marker after the handle.
// The instruction names the target as the speaker the replies belong to, so
// the provider writes from that participant's point of view.
func renderTranscript(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if l.Self {
			b.WriteString(l.Handle)
			b.WriteString(" (me): ")
		} else {
			b.WriteString(l.Handle)
			b.WriteString(": ")
		}
		b.WriteString(l.Body)
	}
	return b.String()
}

// annotate converts a message window into transcript lines from the target
// participant's perspective.
func annotate(msgs []models.Message, target models.ParticipantKey, handle func(models.ParticipantKey) string) []Line {
	lines := make([]Line, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, Line{
			Handle: handle(m.Author),
			Body:   m.Body,
			Self:   m.Author == target,
		})
	}
	return lines
}

// systemInstruction is the fixed instruction contract sent with every
// generation request. It demands structured output: a JSON object holding
// exactly one array of short candidate replies.
func systemInstruction(p Prompt) string {
	return fmt.Sprintf(`You are helping "%s" chat in a group conversation. `+
		`The transcript lines marked "(me)" were written by "%s"; reply from their point of view, `+
		`in the same language as the conversation. `+
		`Propose %d short, distinct reply options ordered from most to least fitting. `+
		`Respond with JSON only, in exactly this shape: {"replies": ["...", "..."]}.`,
		p.LocalUser, p.LocalUser, p.Count)
}
