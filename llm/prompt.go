package llm

import (
	"fmt"
	"strings"

	"github.com/slopgame/slop/models"
)

// TargetWords is the script length asked of the model, about ninety
// seconds spoken.
const TargetWords = 150

const formatInstructions = `Reply with a single JSON object and nothing else:
{"content": "<the full script>", "roles": [{"name": "<character>", "description": "<one line>", "lines": ["<line>", "..."]}]}`

func systemPrompt(p models.Personality, tone models.ContentTone) string {
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	b.WriteString("\n\n")
	if tone == models.ToneAdult {
		b.WriteString("Mature humor is allowed. Keep it clever rather than crude.\n")
	} else {
		b.WriteString("Keep everything family friendly. No profanity or innuendo.\n")
	}
	if p.ExampleScript != "" {
		b.WriteString("\nAn example of your style:\n")
		b.WriteString(p.ExampleScript)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(formatInstructions)
	return b.String()
}

func userPrompt(prompt string, numRoles int) string {
	return fmt.Sprintf(
		"Write a short performance script of about %d words based on this prompt: %q.\n"+
			"It must have exactly %d character roles, one per performer. "+
			"Do not use the words of the prompt verbatim in the script.",
		TargetWords, prompt, numRoles)
}
