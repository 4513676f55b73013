package model

import "time"

// EventKind names an observable pool event.
type EventKind string

const (
	EventDepositAccepted      EventKind = "deposit_accepted"
	EventFundsSwept           EventKind = "funds_swept"
	EventWithdrawalPaid       EventKind = "withdrawal_paid"
	EventDepositForfeited     EventKind = "deposit_forfeited"
	EventMembershipExtended   EventKind = "membership_extended"
	EventDispersalFunded      EventKind = "dispersal_funded"
	EventRoundRescheduled     EventKind = "round_rescheduled"
	EventRoundReset           EventKind = "round_reset"
	EventAllowListChanged     EventKind = "allowlist_changed"
	EventTermsUpdated         EventKind = "terms_updated"
	EventFundsRecovered       EventKind = "funds_recovered"
	EventOwnershipTransferred EventKind = "ownership_transferred"
)

// Event is emitted after a pool operation commits.
type Event struct {
	Kind    EventKind `json:"kind"`
	Round   uint64    `json:"round"`
	Account Account   `json:"account,omitempty"`
	Amount  uint64    `json:"amount,omitempty"`
	Expiry  time.Time `json:"expiry"` // new expiry, or new round start for round events
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}
