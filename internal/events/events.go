// Package events publishes domain events about workspaces, pages, items and
// memberships.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TopicWorkspaceCreated = "flux.workspace.created"
	TopicWorkspaceDeleted = "flux.workspace.deleted"

	TopicPageCreated  = "flux.page.created"
	TopicPageUpdated  = "flux.page.updated"
	TopicPageArchived = "flux.page.archived"

	TopicItemCreated = "flux.item.created"
	TopicItemUpdated = "flux.item.updated"
	TopicItemDeleted = "flux.item.deleted"

	TopicMemberAdded       = "flux.member.added"
	TopicMemberRemoved     = "flux.member.removed"
	TopicMemberRoleChanged = "flux.member.role_changed"

	TopicCommentCreated = "flux.comment.created"
)

type Event struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	WorkspaceID string    `json:"workspaceId"`
	ActorID     string    `json:"actorId"`
	SubjectID   string    `json:"subjectId"`
	OccurredAt  time.Time `json:"occurredAt"`
	Data        any       `json:"data,omitempty"`
}

func New(topic, workspaceID, actorID, subjectID string, data any) Event {
	return Event{
		ID:          ulid.Make().String(),
		Topic:       topic,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		SubjectID:   subjectID,
		OccurredAt:  time.Now().UTC(),
		Data:        data,
	}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps published events in order. It backs tests and single-process
// development setups.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Topics returns the topic of every published event, in order.
func (m *Memory) Topics() []string {
	events := m.Events()
	topics := make([]string, 0, len(events))
	for _, e := range events {
		topics = append(topics, e.Topic)
	}
	return topics
}
