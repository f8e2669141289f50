package domain

// Role tags the author of a history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind describes what a history entry carries.
type MessageKind string

const (
	KindInstruction MessageKind = "instruction"
	KindQuery       MessageKind = "query"
	KindExemplars   MessageKind = "exemplars"
	KindRetry       MessageKind = "retry"
)

// Message is a single role-tagged entry in a generation conversation.
type Message struct {
	Role    Role        `json:"role"`
	Kind    MessageKind `json:"kind"`
	Content string      `json:"content"`
}

// History is an append-only sequence of messages.
// Append never modifies the receiver, so a History value can be handed out
// without callers observing later growth.
type History struct {
	msgs []Message
}

// NewHistory creates a history holding the given messages.
func NewHistory(msgs ...Message) History {
	return History{msgs: append([]Message(nil), msgs...)}
}

// Append returns a new history with msgs added at the end.
func (h History) Append(msgs ...Message) History {
	out := make([]Message, 0, len(h.msgs)+len(msgs))
	out = append(out, h.msgs...)
	out = append(out, msgs...)
	return History{msgs: out}
}

// Messages returns a copy of the entries in order.
func (h History) Messages() []Message {
	return append([]Message(nil), h.msgs...)
}

// Len returns the number of entries.
func (h History) Len() int {
	return len(h.msgs)
}

// Count returns the number of entries of the given kind.
func (h History) Count(kind MessageKind) int {
	n := 0
	for _, m := range h.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the final entry, or false if the history is empty.
func (h History) Last() (Message, bool) {
	if len(h.msgs) == 0 {
		return Message{}, false
	}
	return h.msgs[len(h.msgs)-1], true
}
