package notify

import (
	"reflect"
	"testing"

	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
)

func TestMessageRoundTripThroughCodec(t *testing.T) {
	mods := &mailbox.PendingModifications{
		Created: []mailbox.ItemSnapshot{{ID: 260, Type: "message", FolderID: 2, Flags: 1}},
		Modified: []mailbox.ItemModification{
			{Item: mailbox.ItemSnapshot{ID: 258, Type: "message", FolderID: 5}, Mask: mailbox.ChangedUnread | mailbox.ChangedFlags},
		},
		Deleted: []int{12, 13},
		Changed: mailbox.ChangedContent | mailbox.ChangedUnread,
	}
	codec := mailbox.JSONCodec{}
	snapshot, err := codec.Serialize(mods)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	in := Message{
		AccountID:         "acct-A",
		ChangeID:          77,
		Snapshot:          snapshot,
		Source:            mailbox.SourceInfo{NodeID: "node-3", SessionID: "sess-9"},
		SourceMailboxHash: 123456,
	}
	payload, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Message
	if err := out.UnmarshalBinary(payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.AccountID != in.AccountID || out.ChangeID != in.ChangeID ||
		out.Source != in.Source || out.SourceMailboxHash != in.SourceMailboxHash {
		t.Fatalf("message fields did not survive the wire: %+v", out)
	}

	replayed, err := codec.Deserialize(testMailbox{2, "acct-A"}, out.Snapshot)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(mods, replayed) {
		t.Fatalf("modification batch not equivalent after round trip:\n%+v\n%+v", mods, replayed)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{"account_id":"acct-A","change_id":5,"snapshot":{},"future_field":true}`)
	var m Message
	if err := m.UnmarshalBinary(payload); err != nil {
		t.Fatalf("decoding with unknown fields must work: %v", err)
	}
	if m.AccountID != "acct-A" || m.ChangeID != 5 {
		t.Fatalf("unexpected decode result: %+v", m)
	}
}
