// Package mailbox holds the narrow surface the notification fabric consumes
// from the mailbox engine: identity accessors, the pending-modification
// batch produced by a committed mutation, and the codec that moves a batch
// on and off the wire. The storage and transaction engine behind these
// types lives elsewhere.
package mailbox

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Mailbox is the accessor surface the fabric needs from a loaded mailbox.
type Mailbox interface {
	// ID is the numeric mailbox id; stable for the life of the account.
	ID() int
	// AccountID is the owning account's identifier.
	AccountID() string
}

// ChangeMask flags which aspects of an item a modification touched.
type ChangeMask uint32

const (
	ChangedContent ChangeMask = 1 << iota
	ChangedUnread
	ChangedFlags
	ChangedTags
	ChangedFolder
	ChangedName
	ChangedSize
)

// ItemSnapshot is the wire-safe identity of a created or modified item.
type ItemSnapshot struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	FolderID int    `json:"folder_id"`
	Flags    int    `json:"flags,omitempty"`
}

// ItemModification pairs an item snapshot with the mask of what changed.
type ItemModification struct {
	Item ItemSnapshot `json:"item"`
	Mask ChangeMask   `json:"mask"`
}

// PendingModifications is the batch of changes a single committed mutation
// produced. The mutation path owns construction and the change id; the
// fabric only reads it.
type PendingModifications struct {
	Created  []ItemSnapshot     `json:"created,omitempty"`
	Modified []ItemModification `json:"modified,omitempty"`
	Deleted  []int              `json:"deleted,omitempty"`
	Changed  ChangeMask         `json:"changed,omitempty"`
}

// HasNotifications reports whether the batch contains anything visible to
// other nodes. Empty batches never produce remote traffic.
func (p *PendingModifications) HasNotifications() bool {
	if p == nil {
		return false
	}
	return len(p.Created) > 0 || len(p.Modified) > 0 || len(p.Deleted) > 0
}

// SourceInfo describes the session that triggered a mutation. It travels
// with the notification so receiving nodes can tell their own sessions from
// the originator.
type SourceInfo struct {
	NodeID    string `json:"node_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewSourceInfo mints a source descriptor for a fresh session on this node.
func NewSourceInfo(nodeID string) SourceInfo {
	return SourceInfo{NodeID: nodeID, SessionID: uuid.NewString()}
}

// SnapshotCodec serializes a modification batch against a live mailbox.
// Implemented by the mailbox engine; JSONCodec is the default.
type SnapshotCodec interface {
	Serialize(mods *PendingModifications) ([]byte, error)
	Deserialize(mbox Mailbox, snapshot []byte) (*PendingModifications, error)
}

// JSONCodec round-trips a batch through JSON. Unknown fields are ignored on
// decode, which is what gives additive schema changes a rollout path.
type JSONCodec struct{}

func (JSONCodec) Serialize(mods *PendingModifications) ([]byte, error) {
	if mods == nil {
		return nil, fmt.Errorf("nil modification batch")
	}
	return json.Marshal(mods)
}

func (JSONCodec) Deserialize(_ Mailbox, snapshot []byte) (*PendingModifications, error) {
	var mods PendingModifications
	if err := json.Unmarshal(snapshot, &mods); err != nil {
		return nil, fmt.Errorf("decoding modification snapshot: %w", err)
	}
	return &mods, nil
}

// Hash returns a stable hash of the mailbox identity, used to tag outbound
// notifications with their originating mailbox.
func Hash(m Mailbox) int {
	h := xxhash.Sum64String(fmt.Sprintf("%d:%s", m.ID(), m.AccountID()))
	return int(uint32(h))
}
