package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/model"
)

var start = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func sampleRound() *model.Snapshot {
	snap := model.NewSnapshot()
	snap.Owner = "owner"
	snap.Terms = model.Terms{APYPercent: 6, MaxPerMember: 2500, MembershipFee: 25}
	snap.Round = model.Round{
		Number:         2,
		Start:          start,
		DispersalDate:  start.Add(model.OneYear),
		TotalDeposited: 3000,
		Swept:          3000,
		DispersalFunds: 1000,
		Active:         true,
	}
	snap.Directory = []model.Account{"alice", "bob"}
	snap.Memberships["alice"] = start.Add(model.OneYear)
	snap.Memberships["bob"] = start.Add(-time.Hour)
	snap.AllowList["alice"] = true
	return snap
}

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		evt  model.Event
		want string
	}{
		{model.Event{Kind: model.EventDepositAccepted, Round: 2, Account: "alice", Amount: 500}, "alice deposited 500"},
		{model.Event{Kind: model.EventWithdrawalPaid, Round: 2, Account: "bob", Amount: 1060}, "bob received 1060"},
		{model.Event{Kind: model.EventDepositForfeited, Round: 2, Account: "bob", Amount: 1060}, "bob lapsed, 1060 released"},
		{model.Event{Kind: model.EventFundsSwept, Round: 2, Amount: 3000}, "3000 moved to the owner"},
		{model.Event{Kind: model.EventMembershipExtended, Account: "alice", Expiry: start}, "alice active until 2026-02-01"},
		{model.Event{Kind: model.EventRoundReset, Round: 3, Amount: 40, Expiry: start}, "leftover dispersal funds: 40"},
		{model.Event{Kind: model.EventAllowListChanged, Account: "carol", Note: "removed"}, "carol removed"},
		{model.Event{Kind: model.EventOwnershipTransferred, Account: "new", Note: "old"}, "old → new"},
	}
	for _, c := range cases {
		t.Run(string(c.evt.Kind), func(t *testing.T) {
			assert.Contains(t, FormatEvent(c.evt), c.want)
		})
	}
}

func TestFormatRoundStatus(t *testing.T) {
	snap := sampleRound()

	active := FormatRoundStatus(snap, start.Add(24*time.Hour), 3180)
	assert.Contains(t, active, "Round 2</b> | active")
	assert.Contains(t, active, "Depositors: 2")
	assert.Contains(t, active, "Funding window opens in")

	window := FormatRoundStatus(snap, snap.Round.DispersalDate.Add(-time.Hour), 3180)
	assert.Contains(t, window, "funding window is open")

	post := FormatRoundStatus(snap, snap.Round.DispersalDate, 3180)
	assert.Contains(t, post, "post_dispersal")
	assert.Contains(t, post, "Underfunded by 2180")

	open := FormatRoundStatus(snap, start.Add(-36*time.Hour), 0)
	assert.Contains(t, open, "Deposits close in 1d 12h")
}

func TestFormatMembership(t *testing.T) {
	now := start
	assert.Contains(t, FormatMembership("a", time.Time{}, now), "never paid")
	assert.Contains(t, FormatMembership("a", now.Add(-time.Second), now), "lapsed")
	assert.Contains(t, FormatMembership("a", now, now), "active until")
	assert.Contains(t, FormatMembership("<b>eve</b>", now, now), "&lt;b&gt;eve&lt;/b&gt; active until")
}

func TestFormatDailySummary(t *testing.T) {
	out := FormatDailySummary(sampleRound(), start.Add(time.Hour), 3180, 4)
	assert.Contains(t, out, "Members: 1 | Allowlisted: 1")
	assert.Contains(t, out, "Events in the last 24h: 4")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	require.NoError(t, n.Send(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegramNotifier_SendWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	require.NoError(t, n.SendWithRetry(context.Background(), "hello", 2))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramNotifier_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	err := n.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestTelegramNotifier_SendSplitsLongMessages(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		mu.Lock()
		texts = append(texts, got["text"])
		mu.Unlock()
	}))
	defer srv.Close()

	line := strings.Repeat("x", 99) + "\n"
	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	require.NoError(t, n.Send(context.Background(), strings.Repeat(line, 50)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 2)
	assert.Equal(t, strings.Repeat(line, 40), texts[0])
	assert.Equal(t, strings.Repeat(line, 10), texts[1])
}

func TestTelegramNotifier_SendWithRetryStopsOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	err := n.SendWithRetry(context.Background(), "hello", 3)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelegramNotifier_SendWithRetryHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":2}}`))
			return
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	began := time.Now()
	require.NoError(t, n.SendWithRetry(context.Background(), "hello", 1))
	assert.GreaterOrEqual(t, time.Since(began), 2*time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("/Member@poolbot alice extra")
	require.True(t, ok)
	assert.Equal(t, "/member", cmd.Name)
	assert.Equal(t, "alice", cmd.Arg(0))
	assert.Equal(t, "extra", cmd.Arg(1))
	assert.Empty(t, cmd.Arg(2))

	for _, text := range []string{"", "   ", "hello", "/"} {
		_, ok := ParseCommand(text)
		assert.False(t, ok, text)
	}
}

func TestPoll_AnswersOperatorChatOnly(t *testing.T) {
	var (
		mu      sync.Mutex
		replies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken/getUpdates":
			assert.Equal(t, "7", r.URL.Query().Get("offset"))
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":7,"message":{"text":"/member@poolbot alice","chat":{"id":42}}},
				{"update_id":8,"message":{"text":"/member bob","chat":{"id":99}}},
				{"update_id":9,"message":{"text":"thanks","chat":{"id":42}}}
			]}`))
		case "/bottoken/sendMessage":
			var got map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			mu.Lock()
			replies = append(replies, got["text"])
			mu.Unlock()
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	var seen []Command
	next, err := n.poll(context.Background(), srv.Client(), 7, 0, func(cmd Command) string {
		seen = append(seen, cmd)
		return "ok " + cmd.Arg(0)
	})
	require.NoError(t, err)
	assert.Equal(t, 10, next)
	assert.Equal(t, []Command{{Name: "/member", Args: []string{"alice"}}}, seen)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok alice"}, replies)
}
