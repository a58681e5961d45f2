package notify

import (
	"strconv"
	"time"
)

// EventType represents the type of notification event
type EventType string

const (
	EventPermitAssigned      EventType = "permit_assigned"
	EventPermitStatusChanged EventType = "permit_status_changed"
	EventChalanAssigned      EventType = "chalan_assigned"
	EventChalanStatusChanged EventType = "chalan_status_changed"
)

// Event is one committed change worth telling someone about. Before and
// After are supplied by the code that made the change; nothing here diffs
// state.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Entity   string `json:"entity"`
	EntityID int64  `json:"entity_id"`
	// Number is the human-facing permit or chalan number
	Number string `json:"number,omitempty"`

	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`

	ActorID    *int64  `json:"actor_id,omitempty"`
	Recipients []int64 `json:"recipients"`
}

// AssignedEvent announces a new assignee for an entity. from is 0 for a
// first assignment and then leaves Before empty.
func AssignedEvent(typ EventType, entity string, id int64, number string, from, to int64, actor *int64) Event {
	evt := Event{
		Type:       typ,
		Entity:     entity,
		EntityID:   id,
		Number:     number,
		After:      formatUserID(to),
		ActorID:    actor,
		Recipients: []int64{to},
	}
	if from != 0 {
		evt.Before = formatUserID(from)
	}
	return evt
}

// StatusChangedEvent announces a status transition to the given users.
// Zero and repeated recipients are dropped.
func StatusChangedEvent(typ EventType, entity string, id int64, number, before, after string, actor *int64, recipients ...int64) Event {
	return Event{
		Type:       typ,
		Entity:     entity,
		EntityID:   id,
		Number:     number,
		Before:     before,
		After:      after,
		ActorID:    actor,
		Recipients: uniqueRecipients(recipients),
	}
}

func uniqueRecipients(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func formatUserID(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}
