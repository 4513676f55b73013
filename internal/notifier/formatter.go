package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"termpool/internal/model"
)

const dateFormat = "2006-01-02 15:04 MST"

// FormatEvent renders a single pool event as a one-paragraph chat message.
func FormatEvent(evt model.Event) string {
	var b strings.Builder
	switch evt.Kind {
	case model.EventDepositAccepted:
		b.WriteString(fmt.Sprintf("💰 <b>Deposit</b> | round %d\n", evt.Round))
		b.WriteString(fmt.Sprintf("%s deposited %d\n", esc(evt.Account), evt.Amount))
	case model.EventFundsSwept:
		b.WriteString(fmt.Sprintf("🧹 <b>Funds swept</b> | round %d\n", evt.Round))
		b.WriteString(fmt.Sprintf("%d moved to the owner\n", evt.Amount))
	case model.EventWithdrawalPaid:
		b.WriteString(fmt.Sprintf("✅ <b>Withdrawal</b> | round %d\n", evt.Round))
		b.WriteString(fmt.Sprintf("%s received %d\n", esc(evt.Account), evt.Amount))
	case model.EventDepositForfeited:
		b.WriteString(fmt.Sprintf("⛔ <b>Claim forfeited</b> | round %d\n", evt.Round))
		b.WriteString(fmt.Sprintf("%s lapsed, %d released\n", esc(evt.Account), evt.Amount))
	case model.EventMembershipExtended:
		b.WriteString("🎫 <b>Membership</b>\n")
		b.WriteString(fmt.Sprintf("%s active until %s\n", esc(evt.Account), evt.Expiry.Format(dateFormat)))
	case model.EventDispersalFunded:
		b.WriteString(fmt.Sprintf("🏦 <b>Dispersal funded</b> | round %d\n", evt.Round))
		b.WriteString(fmt.Sprintf("owner added %d\n", evt.Amount))
	case model.EventRoundRescheduled:
		b.WriteString(fmt.Sprintf("📅 <b>Round %d rescheduled</b>\n", evt.Round))
		b.WriteString(fmt.Sprintf("new start: %s\n", evt.Expiry.Format(dateFormat)))
	case model.EventRoundReset:
		b.WriteString(fmt.Sprintf("🔄 <b>Round %d opened</b>\n", evt.Round))
		b.WriteString(fmt.Sprintf("start: %s\n", evt.Expiry.Format(dateFormat)))
		if evt.Amount > 0 {
			b.WriteString(fmt.Sprintf("leftover dispersal funds: %d\n", evt.Amount))
		}
	case model.EventAllowListChanged:
		b.WriteString(fmt.Sprintf("📋 <b>Allowlist</b>: %s %s\n", esc(evt.Account), html.EscapeString(evt.Note)))
	case model.EventTermsUpdated:
		b.WriteString(fmt.Sprintf("📝 <b>Terms updated</b> | round %d\n", evt.Round))
		if evt.Note != "" {
			b.WriteString(html.EscapeString(evt.Note) + "\n")
		}
	case model.EventFundsRecovered:
		b.WriteString("⚠️ <b>Funds recovered</b>\n")
		b.WriteString(fmt.Sprintf("%d %s sent to %s\n", evt.Amount, html.EscapeString(evt.Note), esc(evt.Account)))
	case model.EventOwnershipTransferred:
		b.WriteString("🔑 <b>Ownership transferred</b>\n")
		b.WriteString(fmt.Sprintf("%s → %s\n", html.EscapeString(evt.Note), esc(evt.Account)))
	default:
		b.WriteString(fmt.Sprintf("<b>%s</b> | round %d\n", evt.Kind, evt.Round))
	}
	return b.String()
}

// FormatRoundStatus formats the current round for the /status and /round commands.
func FormatRoundStatus(snap *model.Snapshot, now time.Time, owed uint64) string {
	r := snap.Round
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Round %d</b> | %s\n\n", r.Number, r.PhaseAt(now)))
	b.WriteString(fmt.Sprintf("Start: %s\n", r.Start.Format(dateFormat)))
	b.WriteString(fmt.Sprintf("Dispersal: %s\n", r.DispersalDate.Format(dateFormat)))
	b.WriteString(fmt.Sprintf("Depositors: %d\n", len(snap.Directory)))
	b.WriteString(fmt.Sprintf("Total deposited: %d\n", r.TotalDeposited))
	b.WriteString(fmt.Sprintf("Swept: %d\n", r.Swept))
	b.WriteString(fmt.Sprintf("Dispersal funds: %d\n", r.DispersalFunds))
	b.WriteString(fmt.Sprintf("Still owed: %d\n", owed))

	switch r.PhaseAt(now) {
	case model.PhaseOpen:
		b.WriteString(fmt.Sprintf("\nDeposits close in %s\n", until(now, r.Start)))
	case model.PhaseActive:
		if r.FundingWindowOpen(now) {
			b.WriteString("\n⏳ Dispersal funding window is open\n")
		} else {
			b.WriteString(fmt.Sprintf("\nFunding window opens in %s\n", until(now, r.DispersalDate.Add(-model.DispersalWindow))))
		}
	case model.PhasePostDispersal:
		if owed > r.DispersalFunds {
			b.WriteString(fmt.Sprintf("\n⚠️ Underfunded by %d\n", owed-r.DispersalFunds))
		}
	}
	return b.String()
}

// FormatTerms formats the round terms.
func FormatTerms(terms model.Terms) string {
	var b strings.Builder
	b.WriteString("📝 <b>Terms</b>\n\n")
	b.WriteString(fmt.Sprintf("APY: %d%%\n", terms.APYPercent))
	b.WriteString(fmt.Sprintf("Max per member: %d\n", terms.MaxPerMember))
	b.WriteString(fmt.Sprintf("Membership fee: %d\n", terms.MembershipFee))
	return b.String()
}

// FormatMembership describes an account's membership at now.
func FormatMembership(account model.Account, expiry, now time.Time) string {
	switch {
	case expiry.IsZero():
		return fmt.Sprintf("🎫 %s has never paid a membership fee", esc(account))
	case expiry.Before(now):
		return fmt.Sprintf("🎫 %s lapsed on %s", esc(account), expiry.Format(dateFormat))
	default:
		return fmt.Sprintf("🎫 %s active until %s", esc(account), expiry.Format(dateFormat))
	}
}

// FormatPhaseChange announces a lifecycle transition.
func FormatPhaseChange(round uint64, from, to model.Phase) string {
	return fmt.Sprintf("🔔 <b>Round %d</b>: %s → %s", round, from, to)
}

// FormatFundingWindow reminds the owner what must be funded before dispersal.
func FormatFundingWindow(r model.Round, owed uint64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏳ <b>Round %d funding window open</b>\n\n", r.Number))
	b.WriteString(fmt.Sprintf("Dispersal: %s\n", r.DispersalDate.Format(dateFormat)))
	b.WriteString(fmt.Sprintf("Owed: %d\n", owed))
	b.WriteString(fmt.Sprintf("Funded: %d\n", r.DispersalFunds))
	if owed > r.DispersalFunds {
		b.WriteString(fmt.Sprintf("Missing: %d\n", owed-r.DispersalFunds))
	}
	return b.String()
}

// FormatDailySummary formats the daily operator digest.
func FormatDailySummary(snap *model.Snapshot, now time.Time, owed uint64, recent int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>Daily summary</b> | %s\n\n", now.Format("2006-01-02")))
	b.WriteString(FormatRoundStatus(snap, now, owed))
	b.WriteString(fmt.Sprintf("\nMembers: %d | Allowlisted: %d\n", activeMembers(snap, now), len(snap.AllowListed())))
	b.WriteString(fmt.Sprintf("Events in the last 24h: %d\n", recent))
	return b.String()
}

// esc makes an account name safe inside an HTML-mode message.
func esc(a model.Account) string {
	return html.EscapeString(string(a))
}

func activeMembers(snap *model.Snapshot, now time.Time) int {
	n := 0
	for _, expiry := range snap.Memberships {
		if !expiry.Before(now) {
			n++
		}
	}
	return n
}

func until(now, t time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "0h"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d%(24*time.Hour)) / int(time.Hour)
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dh", hours)
}
