package usecase

import "github.com/oklog/ulid/v2"

// NewConversationID returns a new sortable conversation id.
func NewConversationID() string {
	return ulid.Make().String()
}

// newCallID identifies a tool call parsed from the text protocol, which
// carries no provider-assigned id.
func newCallID() string {
	return "call_" + ulid.Make().String()
}
