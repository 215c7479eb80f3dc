package generation

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are AskSPM, an assistant specialized in sales performance management and sales compensation design.

Your answers must:
1. Be grounded ONLY in the knowledge cards provided as context
2. Use plain, practitioner-level language (comp admins and RevOps leaders, not academics)
3. Acknowledge when the provided cards do not cover the question
4. Stay concise: a few short paragraphs at most

Never invent policy details, legal advice, or benchmark figures that are not in the provided context.`

func buildUserPrompt(req AnswerRequest) string {
	var b strings.Builder

	if len(req.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, ex := range req.History {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.Question, ex.Answer)
		}
		b.WriteString("\n")
	}

	if len(req.Cards) == 0 {
		b.WriteString("No knowledge cards matched this question. Answer from general sales-compensation principles and say so.\n\n")
	} else {
		b.WriteString("Knowledge cards:\n")
		for i, card := range req.Cards {
			fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, card.Keyword, card.Pillar, card.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	return b.String()
}
