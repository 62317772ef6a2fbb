package notify

import (
	"encoding/json"

	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
)

// Message is the wire unit carried on a notification channel. Immutable once
// constructed. There is no schema version field; decode ignores unknown
// fields, so additive changes can roll out without coordination.
type Message struct {
	AccountID         string             `json:"account_id"`
	ChangeID          int                `json:"change_id"`
	Snapshot          json.RawMessage    `json:"snapshot"`
	Source            mailbox.SourceInfo `json:"source"`
	SourceMailboxHash int                `json:"source_mailbox_hash"`
}

func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}
