package recorder

import "termpool/internal/model"

// Recorder persists the pool's event history for auditors and indexers.
type Recorder interface {
	RecordEvent(evt *model.Event) error
	// Events returns the most recent events, newest first. A zero limit means all.
	Events(limit int) ([]model.Event, error)
	// AccountEvents returns an account's events, newest first.
	AccountEvents(account model.Account, limit int) ([]model.Event, error)
	Close() error
}
