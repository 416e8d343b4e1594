package convsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverMsg(id int, clientID string) Message {
	m := Message{ID: id, ConversationID: 1, SenderID: 1, Content: "m", CreatedAt: time.Unix(int64(1700000000+id), 0)}
	if clientID != "" {
		m.ClientID = &clientID
	}
	return m
}

func TestMergeConfirmedEchoReplacesPending(t *testing.T) {
	outbox := NewOutbox()
	clientID := outbox.Enqueue("hi", "", nil)

	server := []Message{serverMsg(1, ""), serverMsg(2, clientID)}
	items := Merge(server, outbox.Snapshot())

	require.Len(t, items, 2)
	assert.Equal(t, 2, items[1].Message.ID)
	assert.False(t, items[1].Pending)
}

func TestMergePendingFollowsHistory(t *testing.T) {
	outbox := NewOutbox()
	first := outbox.Enqueue("a", "", nil)
	second := outbox.Enqueue("b", "", nil)

	items := Merge([]Message{serverMsg(1, "")}, outbox.Snapshot())

	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].Message.ID)
	assert.Equal(t, first, items[1].ClientID)
	assert.True(t, items[1].Pending)
	assert.Equal(t, second, items[2].ClientID)
	assert.True(t, items[2].Pending)
}

func TestMergeIsIdempotent(t *testing.T) {
	outbox := NewOutbox()
	outbox.Enqueue("a", "", nil)
	server := []Message{serverMsg(1, ""), serverMsg(2, "other")}

	first := Merge(server, outbox.Snapshot())
	second := Merge(server, outbox.Snapshot())

	assert.Equal(t, first, second)
}

func TestMergeSentShowsServerEcho(t *testing.T) {
	outbox := NewOutbox()
	clientID := outbox.Enqueue("hi", "", nil)
	outbox.MarkSent(clientID, serverMsg(9, clientID))

	// Echo not yet visible in the polled page.
	items := Merge([]Message{serverMsg(1, "")}, outbox.Snapshot())

	require.Len(t, items, 2)
	assert.Equal(t, 9, items[1].Message.ID)
	assert.False(t, items[1].Pending)
	assert.False(t, items[1].Failed)
}

func TestMergeFailedFlagged(t *testing.T) {
	outbox := NewOutbox()
	clientID := outbox.Enqueue("hi", "", nil)
	outbox.MarkFailed(clientID)

	items := Merge(nil, outbox.Snapshot())

	require.Len(t, items, 1)
	assert.True(t, items[0].Failed)
	assert.False(t, items[0].Pending)
}

func TestRetryReusesClientID(t *testing.T) {
	outbox := NewOutbox()
	clientID := outbox.Enqueue("hi", "", nil)
	outbox.MarkFailed(clientID)

	require.True(t, outbox.Retry(clientID))

	sending := outbox.Sending()
	require.Len(t, sending, 1)
	assert.Equal(t, clientID, sending[0].ClientID)
}

func TestRetryOnlyAppliesToFailedEntries(t *testing.T) {
	outbox := NewOutbox()
	clientID := outbox.Enqueue("hi", "", nil)

	assert.False(t, outbox.Retry(clientID))
	assert.False(t, outbox.Retry("unknown"))
}

func TestCompactDropsConfirmedEntries(t *testing.T) {
	outbox := NewOutbox()
	confirmed := outbox.Enqueue("a", "", nil)
	pending := outbox.Enqueue("b", "", nil)
	outbox.MarkSent(confirmed, serverMsg(5, confirmed))

	outbox.Compact([]Message{serverMsg(5, confirmed)})

	entries := outbox.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, pending, entries[0].ClientID)
}
