package agent

import (
	"fmt"
	"strings"

	"khidma/internal/tools"
)

// systemPrompt builds the preamble sent ahead of the conversation history:
// who the assistant is plus the service catalog with advertised fees.
func systemPrompt(registry *tools.Registry) string {
	var b strings.Builder
	b.WriteString("You are a government-services assistant. You help residents complete ")
	b.WriteString("transactions such as renewing documents, paying fines and booking appointments.\n\n")
	b.WriteString("Available services:\n")
	for _, d := range registry.List() {
		fmt.Fprintf(&b, "- %s (%s, fee: %s): %s\n", d.DisplayName, d.Category, d.FeeLabel, d.Description)
	}
	b.WriteString("\nWhen the user asks for one of these services, call the matching tool. ")
	b.WriteString("Use search_knowledge for questions about how services work. ")
	b.WriteString("Answer directly, in the user's language, when no service applies. ")
	b.WriteString("Never invent fees or reference numbers; only report what tools return.")
	return b.String()
}
