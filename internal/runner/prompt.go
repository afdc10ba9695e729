package runner

import (
	"fmt"
	"strings"

	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/tools"
)

// FinalAnswerPrompt follows an inline tool result.
const FinalAnswerPrompt = "Now provide the final answer based on the tool result."

// FallbackAnswer is used when the forced final round still produced no text.
const FallbackAnswer = "I could not finish this request within the tool limit. Please try rephrasing the question."

// EmptyAnswer is used when the model ended the turn without any text.
const EmptyAnswer = "I could not produce an answer to that. Please try rephrasing the question."

// SeedKnowledge is loaded into an empty index with --seed.
var SeedKnowledge = []string{
	"Sri Lanka's GDP is approximately $75 billion.",
	"Main exports: tea, textiles, rubber, spices.",
	"Currency: Sri Lankan Rupee (LKR).",
	"Central Bank of Sri Lanka manages monetary policy.",
	"The Colombo Stock Exchange (CSE) is the main stock exchange.",
	"Tourism is a major contributor to the economy.",
}

// DefaultSystemPrompt describes the assistant and the given tools, including
// the text protocol for models without structured tool calls.
func DefaultSystemPrompt(defs []tools.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You are an expert assistant for Sri Lankan market intelligence and economics.\n\n")
	b.WriteString("You have access to these tools:\n")
	for i, d := range defs {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, d.Name, d.Description)
	}
	b.WriteString("\nUse one tool at a time. If you cannot call tools directly, respond in this format:\n")
	fmt.Fprintf(&b, "%s tool_name\n%s input_value\n\n", provider.UseToolMarker, provider.InputMarker)
	b.WriteString("Examples:\n")
	fmt.Fprintf(&b, "%s calculator\n%s (250-50)/4\n\n", provider.UseToolMarker, provider.InputMarker)
	b.WriteString("Think step by step and provide clear, actionable insights.")
	return b.String()
}

// inlineResult is the assistant message recording a text-protocol tool run.
func inlineResult(name, result string) string {
	return fmt.Sprintf("I used %s and got: %s", name, result)
}

// exchangeText is what a finished turn leaves in the knowledge index.
func exchangeText(question, answer string) string {
	return fmt.Sprintf("User asked: %s\nAgent answered: %s", question, answer)
}
