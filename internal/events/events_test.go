package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsSortableID(t *testing.T) {
	first := New(TopicPageCreated, "ws-1", "user-1", "page-1", nil)
	second := New(TopicPageUpdated, "ws-1", "user-1", "page-1", nil)

	a, err := ulid.Parse(first.ID)
	require.NoError(t, err)
	b, err := ulid.Parse(second.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, a.Time(), b.Time())
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEncode(t *testing.T) {
	event := New(TopicMemberAdded, "ws-1", "owner-1", "user-2", map[string]string{"role": "member"})

	data, err := event.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "flux.member.added", decoded["topic"])
	assert.Equal(t, "ws-1", decoded["workspaceId"])
	assert.Equal(t, "user-2", decoded["subjectId"])
	assert.Equal(t, map[string]any{"role": "member"}, decoded["data"])
}

func TestMemoryKeepsOrder(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Publish(ctx, New(TopicItemCreated, "ws", "u", "i", nil)))
	require.NoError(t, mem.Publish(ctx, New(TopicItemDeleted, "ws", "u", "i", nil)))

	assert.Equal(t, []string{TopicItemCreated, TopicItemDeleted}, mem.Topics())
}

func TestNATSPublisherConnectFailure(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1")
	require.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), New(TopicPageArchived, "", "", "", nil)))
	assert.NoError(t, p.Close())
}
