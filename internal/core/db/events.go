package db

// ------------------------------
// Event System
// ------------------------------
//
// The DB emits typed events after posts are committed and after archive
// results are saved. Listeners run synchronously, in registration order,
// once the write they describe is durable.
//
//	database.RegisterEventListener(db.OnPostInsertedEvent, func(event db.Event) error {
//	    ev := event.(db.PostInsertedEvent)
//	    logger.Info("post stored", "id", ev.Post.ID, "url", ev.Post.URL)
//	    return nil
//	})
type Event interface {
	Kind() EventKind
}

// EventKind represents all the kinds of events that can be emitted by the DB.
type EventKind int

const (
	// OnPostInsertedEvent is emitted once per post after its batch commits.
	OnPostInsertedEvent EventKind = iota
	// OnArchiveResultSavedEvent is emitted when an archive result is saved.
	OnArchiveResultSavedEvent
)

func (k EventKind) String() string {
	switch k {
	case OnPostInsertedEvent:
		return "post_inserted"
	case OnArchiveResultSavedEvent:
		return "archive_result_saved"
	default:
		return "unknown"
	}
}

// PostInsertedEvent carries the stored row, tags included.
type PostInsertedEvent struct {
	Post Post
}

func (e PostInsertedEvent) Kind() EventKind { return OnPostInsertedEvent }

// ArchiveResultSavedEvent is emitted after an archive result is saved.
type ArchiveResultSavedEvent struct {
	PostID int64
	Status string // "ok" or "error"
}

func (e ArchiveResultSavedEvent) Kind() EventKind { return OnArchiveResultSavedEvent }

// EventListener is a callback that handles events of a specific kind.
type EventListener func(event Event) error

// RegisterEventListener adds a listener for a specific event kind.
func (db *DB) RegisterEventListener(eventKind EventKind, listener EventListener) {
	if db.eventListeners == nil {
		db.eventListeners = make(map[EventKind][]EventListener)
	}
	db.eventListeners[eventKind] = append(db.eventListeners[eventKind], listener)
}

// emit dispatches an event to all registered listeners for that event kind.
// Listener errors are logged and never undo the write.
func (db *DB) emit(event Event) {
	for _, listener := range db.eventListeners[event.Kind()] {
		if err := listener(event); err != nil {
			db.logger.Warn("event listener failed", "event", event.Kind(), "err", err)
		}
	}
}
