package reconcile

import (
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// EventType names what happened.
type EventType string

const (
	EventLocalChange  EventType = "local_change"
	EventLocalDelete  EventType = "local_delete"
	EventPush         EventType = "push"
	EventMerge        EventType = "merge"
	EventSyncComplete EventType = "sync_complete"
	EventRetryDropped EventType = "retry_dropped"
)

// Replica identifies which copy an event concerns.
type Replica string

const (
	ReplicaLocal     Replica = "local"
	ReplicaCloud     Replica = "cloud"
	ReplicaSecondary Replica = "secondary"
)

// Event is delivered to the Observer. Only the fields relevant to Type are
// set.
type Event struct {
	Type     EventType
	Kind     schema.Kind
	ID       string
	Replica  Replica
	Err      error
	Record   schema.Record
	Report   *PushReport
	Merge    *MergeReport
	Sync     *SyncReport
	Decision Decision
	Time     time.Time
}

// Observer receives engine events. OnEvent is called synchronously from the
// goroutine that produced the event and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
