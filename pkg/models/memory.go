package models

// Memory is an ordered conversation transcript for one (session, role)
// pair. Multiple system messages may accumulate over resumptions; only the
// latest one is effective when the transcript is sent to the model.
type Memory struct {
	Messages []ChatMessage `json:"messages"`
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Add appends one message.
func (m *Memory) Add(msg ChatMessage) {
	m.Messages = append(m.Messages, msg)
}

// AddAll appends messages in order.
func (m *Memory) AddAll(msgs ...ChatMessage) {
	m.Messages = append(m.Messages, msgs...)
}

// Empty reports whether the memory holds no messages.
func (m *Memory) Empty() bool {
	return len(m.Messages) == 0
}

// Last returns the most recent message, or a zero message when empty.
func (m *Memory) Last() ChatMessage {
	if len(m.Messages) == 0 {
		return ChatMessage{}
	}
	return m.Messages[len(m.Messages)-1]
}

// LatestSystem returns the most recent system message and whether one
// exists.
func (m *Memory) LatestSystem() (ChatMessage, bool) {
	for i := len(m.Messages) - 1; i >= 0; i-- {
		if m.Messages[i].Role == RoleSystem {
			return m.Messages[i], true
		}
	}
	return ChatMessage{}, false
}

// EffectiveMessages returns the transcript to send to the model: the latest
// system message first (when present) followed by every non-system message
// in original order.
func (m *Memory) EffectiveMessages() []ChatMessage {
	out := make([]ChatMessage, 0, len(m.Messages))
	if sys, ok := m.LatestSystem(); ok {
		out = append(out, sys)
	}
	for _, msg := range m.Messages {
		if msg.Role != RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}
