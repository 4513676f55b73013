package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Command is an operator chat command such as "/member alice".
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// ParseCommand parses a chat message. Names are lower-cased and a trailing
// "@botname" is dropped, so "/Member@poolbot alice" is "/member" with one arg.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") || len(fields[0]) == 1 {
		return Command{}, false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return Command{Name: strings.ToLower(name), Args: fields[1:]}, true
}

// CommandHandler answers a command; an empty reply sends nothing.
type CommandHandler func(cmd Command) string

type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StartPolling long-polls for commands from the operator chat until ctx is
// cancelled. Messages from any other chat are dropped: replies carry member
// balances and expiries.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := 0
	client := &http.Client{Timeout: 35 * time.Second, Transport: t.Client.Transport}
	for {
		next, err := t.poll(ctx, client, offset, 30, handler)
		if ctx.Err() != nil {
			log.Info().Msg("telegram polling stopped")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("telegram polling failed")
			if sleepCtx(ctx, 5*time.Second) != nil {
				log.Info().Msg("telegram polling stopped")
				return
			}
			continue
		}
		offset = next
	}
}

// poll fetches one batch of updates, answers the commands in it and returns
// the next offset.
func (t *TelegramNotifier) poll(ctx context.Context, client *http.Client, offset, timeoutSec int, handler CommandHandler) (int, error) {
	apiURL := fmt.Sprintf("%s?offset=%d&timeout=%d", t.endpoint("getUpdates"), offset, timeoutSec)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return offset, fmt.Errorf("build polling request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return offset, fmt.Errorf("polling request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool             `json:"ok"`
		Result []telegramUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return offset, fmt.Errorf("decode polling response: %w", err)
	}
	if !result.OK {
		return offset, fmt.Errorf("polling response not ok: status %d", resp.StatusCode)
	}

	for _, update := range result.Result {
		offset = update.UpdateID + 1
		msg := update.Message
		if msg == nil {
			continue
		}
		if strconv.FormatInt(msg.Chat.ID, 10) != t.ChatID {
			log.Warn().Int64("chat", msg.Chat.ID).Msg("ignoring command from unknown chat")
			continue
		}
		cmd, ok := ParseCommand(msg.Text)
		if !ok {
			continue
		}
		log.Info().Str("command", cmd.Name).Strs("args", cmd.Args).Msg("received command")
		if reply := handler(cmd); reply != "" {
			if err := t.Send(ctx, reply); err != nil {
				log.Error().Err(err).Str("command", cmd.Name).Msg("send reply")
			}
		}
	}
	return offset, nil
}
