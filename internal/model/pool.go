package model

import (
	"sort"
	"time"
)

const (
	// OneYear is the fixed term of every round.
	OneYear = 365 * 24 * time.Hour
	// DispersalWindow is how long before the dispersal date the owner may fund payouts.
	DispersalWindow = 7 * 24 * time.Hour
)

// Account identifies a participant (member, owner or the pool itself).
type Account string

// Phase is the lifecycle phase of a round.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseActive
	PhasePostDispersal
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseActive:
		return "active"
	case PhasePostDispersal:
		return "post_dispersal"
	default:
		return "unknown"
	}
}

// Terms are the economic parameters of a round.
type Terms struct {
	APYPercent    uint64 `json:"apy_percent" yaml:"apy_percent"`
	MaxPerMember  uint64 `json:"max_per_member" yaml:"max_per_member"`
	MembershipFee uint64 `json:"membership_fee" yaml:"membership_fee"`
}

// Round holds the schedule and aggregate accounting of the current round.
type Round struct {
	Number         uint64    `json:"number"`
	Start          time.Time `json:"start"`
	DispersalDate  time.Time `json:"dispersal_date"`
	TotalDeposited uint64    `json:"total_deposited"`
	DispersalFunds uint64    `json:"dispersal_funds"`
	Swept          uint64    `json:"swept"`
	Active         bool      `json:"active"`
}

// PhaseAt classifies t against the round schedule.
func (r Round) PhaseAt(t time.Time) Phase {
	switch {
	case t.Before(r.Start):
		return PhaseOpen
	case t.Before(r.DispersalDate):
		return PhaseActive
	default:
		return PhasePostDispersal
	}
}

// FundingWindowOpen reports whether t is inside [dispersal-7d, dispersal].
func (r Round) FundingWindowOpen(t time.Time) bool {
	opens := r.DispersalDate.Add(-DispersalWindow)
	return !t.Before(opens) && !t.After(r.DispersalDate)
}

// Custodied is the amount of the pool asset the pool still owes to members.
func (r Round) Custodied() uint64 {
	return r.TotalDeposited - r.Swept + r.DispersalFunds
}

// DepositRecord is one member's position in the current round.
type DepositRecord struct {
	Amount    uint64 `json:"amount"`
	Withdrawn bool   `json:"withdrawn"`
}

// Snapshot is the complete pool state.
type Snapshot struct {
	Owner       Account                   `json:"owner"`
	Terms       Terms                     `json:"terms"`
	Round       Round                     `json:"round"`
	Memberships map[Account]time.Time     `json:"memberships"`
	AllowList   map[Account]bool          `json:"allow_list"`
	Deposits    map[Account]DepositRecord `json:"deposits"`
	Directory   []Account                 `json:"directory"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Memberships: map[Account]time.Time{},
		AllowList:   map[Account]bool{},
		Deposits:    map[Account]DepositRecord{},
	}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Owner:       s.Owner,
		Terms:       s.Terms,
		Round:       s.Round,
		Memberships: make(map[Account]time.Time, len(s.Memberships)),
		AllowList:   make(map[Account]bool, len(s.AllowList)),
		Deposits:    make(map[Account]DepositRecord, len(s.Deposits)),
		Directory:   append([]Account(nil), s.Directory...),
		UpdatedAt:   s.UpdatedAt,
	}
	for k, v := range s.Memberships {
		c.Memberships[k] = v
	}
	for k, v := range s.AllowList {
		c.AllowList[k] = v
	}
	for k, v := range s.Deposits {
		c.Deposits[k] = v
	}
	return c
}

// AllowListed returns the allowlisted accounts in sorted order.
func (s *Snapshot) AllowListed() []Account {
	out := make([]Account, 0, len(s.AllowList))
	for a, ok := range s.AllowList {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
