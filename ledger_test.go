package voicewire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAppendOrder(t *testing.T) {
	ledger := NewConversationLedger()
	ledger.Append(ConversationItem{ID: "item_1", Role: "user"})
	ledger.Append(ConversationItem{ID: "item_2", Role: "assistant"})

	items := ledger.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, "item_1", items[0].ID)
	assert.Equal(t, "item_2", items[1].ID)
	assert.Equal(t, 2, ledger.Len())
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	ledger := NewConversationLedger()
	ledger.Append(ConversationItem{ID: "item_1"})

	snap := ledger.Snapshot()
	snap[0].ID = "mutated"

	assert.Equal(t, "item_1", ledger.Snapshot()[0].ID)
}

func TestLedgerClear(t *testing.T) {
	ledger := NewConversationLedger()
	ledger.Append(ConversationItem{ID: "item_1"})
	ledger.Clear()

	assert.Zero(t, ledger.Len())
	assert.Empty(t, ledger.Snapshot())
}
