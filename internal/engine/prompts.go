package engine

import (
	"fmt"
	"strings"
)

func buildOutlinePrompt(topic, instructions string) string {
	return fmt.Sprintf(`You are a study-note architect. Produce a structured outline for notes on the topic: "%s"

Output markdown ONLY (no surrounding code fence, no commentary):
- Start with a single "# <title>" heading
- 3 to 6 "## <section>" headings
- 2 to 4 bullet points per section naming what the section must cover

Rules:
- The outline is a skeleton, not the notes themselves: name subjects, do not explain them
- Order sections from fundamentals to applications
- Keep every bullet under 15 words%s`, topic, instructionsBlock(instructions))
}

func buildContentPrompt(topic, outline, instructions string) string {
	return fmt.Sprintf(`You are a study-note writer. Write complete notes on the topic: "%s", following this outline exactly:

%s

Output markdown ONLY (no surrounding code fence, no commentary):
- Keep the outline's heading structure
- Expand every bullet into clear explanatory prose
- Add a concrete example or analogy per section where it helps
- Use a mermaid diagram only when a process or relationship genuinely needs one

Rules:
- Do not add sections that are not in the outline
- Prefer precise statements over filler%s`, topic, outline, instructionsBlock(instructions))
}

// instructionsBlock formats optional per-phase user instructions for
// appending to a prompt.
func instructionsBlock(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return ""
	}
	return "\n\nAdditional instructions from the user:\n" + instructions
}
