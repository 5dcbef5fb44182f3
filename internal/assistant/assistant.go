// Package assistant turns the raw list of free gaps into the final text the
// user asked for, by delegating to an LLM.
package assistant

import (
	"context"
	"errors"
	"strings"
)

// ErrAssistant wraps every failure of the downstream model call.
var ErrAssistant = errors.New("assistant call failed")

// NoSlotsMessage is returned when the model answers with nothing usable.
const NoSlotsMessage = "No free slots found based on criteria."

// SystemInstruction is sent as the system prompt on every call.
const SystemInstruction = `You are an expert assistant for a calendar free-slot generator tool.
Your job is to read raw calendar gaps and filter/format them according to the user's natural language instructions.
Default instructions from app: "Format these free slots into a bulleted list exactly like this: 'Monday (2 Mar): 11:30-1:30 p.m., 3-5 p.m.' Each day should be its own bullet. Use 12-hour AM/PM format. Only output the list, no conversational filler."

Important:
- Read the "User Request" carefully. If the user says "next 5 working days", only output 5 working days from the provided gaps.
- Do NOT hallucinate slots. Only use the provided "Available Gaps".
- If no gaps fit the user's criteria, respond simply stating that.`

// Request is what the assistant needs: the free-text instruction and the
// newline-separated gap list.
type Request struct {
	Prompt string
	Gaps   string
}

// Assistant is an opaque text transform. Implementations must be safe for
// concurrent use.
type Assistant interface {
	FormatSlots(ctx context.Context, req Request) (string, error)
}

// UserMessage renders the user turn sent alongside SystemInstruction.
func UserMessage(req Request) string {
	return "User Request: " + req.Prompt + "\n\nAvailable Gaps:\n" + req.Gaps
}

// normalizeReply trims the model output and substitutes NoSlotsMessage
// for an empty answer.
func normalizeReply(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoSlotsMessage
	}
	return s
}
