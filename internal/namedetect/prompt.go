package namedetect

import (
	"fmt"
	"strings"
)

const systemPrompt = `You identify speakers in diarized transcripts.

Each line of the transcript starts with a speaker label in square brackets.
For every label, decide whether the conversation reveals that speaker's name.
Look for these patterns:

1. Direct address: another speaker calls them by name ("Thanks, Alice").
2. Self-reference: the speaker names themself ("This is Bob speaking").
3. Third-person: others refer to the speaker by name in a way that makes the
   link unambiguous.
4. Introduction: a host introduces the speaker ("Our guest today is Carol").

Only report names supported by the text. When a label's name is not revealed,
return null for detected_name.

Respond with JSON only, using this shape:
{
  "detections": [
    {
      "speaker_label": "A",
      "detected_name": "Alice" or null,
      "confidence": a number between 0 and 1,
      "evidence": ["short quotes supporting the name"]
    }
  ],
  "notes": "optional remarks"
}`

func userPrompt(sample string, labels []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Speaker labels: %s\n\n", strings.Join(labels, ", "))
	b.WriteString("Transcript:\n")
	b.WriteString(sample)
	if !strings.HasSuffix(sample, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
