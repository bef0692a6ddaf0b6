package chat

import "github.com/gopherchat/gopherchat/internal/ai"

// ContextWindowSize bounds how much history goes upstream per completion.
// Deliberately fixed, not per-request configurable.
const ContextWindowSize = 5

const systemPrompt = "You are a helpful assistant."

const (
	wireRoleSystem    = "system"
	wireRoleAssistant = "assistant"
)

// WireRole maps a stored sender role to the label the upstream expects.
func WireRole(role string) string {
	if role == RoleAI {
		return wireRoleAssistant
	}
	return role
}

// BuildContext assembles the upstream message sequence for a normal send:
// the fixed system prompt, the recent window in chronological order, then
// the new user text. recentDesc must be newest-first with regenerated
// messages already excluded.
func BuildContext(recentDesc []Message, userText string) []ai.Message {
	msgs := historyWindow(recentDesc)
	return append(msgs, ai.Message{Role: RoleUser, Content: userText})
}

// BuildRegenContext assembles the sequence for regeneration: instead of new
// input, the most recent user message in the window is repeated as the final
// prompt. It returns that message so the caller can reuse its model and
// temperature.
func BuildRegenContext(recentDesc []Message) ([]ai.Message, *Message, error) {
	var prompt *Message
	for i := range recentDesc {
		if recentDesc[i].Role == RoleUser {
			prompt = &recentDesc[i]
			break
		}
	}
	if prompt == nil {
		return nil, nil, ErrNoPromptAvailable
	}
	msgs := historyWindow(recentDesc)
	return append(msgs, ai.Message{Role: RoleUser, Content: prompt.Content}), prompt, nil
}

func historyWindow(recentDesc []Message) []ai.Message {
	out := make([]ai.Message, 0, len(recentDesc)+2)
	out = append(out, ai.Message{Role: wireRoleSystem, Content: systemPrompt})
	// reverse to chronological order
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: WireRole(m.Role), Content: m.Content})
	}
	return out
}
