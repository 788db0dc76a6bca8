// Package relay decides, for every inbound message, whether the user is rate
// limited, what context goes upstream, and what reply comes back.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/ashureev/shsh-relay/internal/completion"
	"github.com/ashureev/shsh-relay/internal/conversation"
	"github.com/ashureev/shsh-relay/internal/cooldown"
)

// Event is one inbound user turn.
type Event struct {
	UserID      string
	Text        string
	DisplayName string // optional, as named by the platform
}

// Orchestrator composes the cooldown tracker, the conversation buffer and the
// completion service into the per-message decision procedure.
type Orchestrator struct {
	cooldowns *cooldown.Tracker
	buffer    *conversation.Buffer
	completer completion.Completer
	users     *keyLock
	logger    *slog.Logger

	allowed     atomic.Int64
	blocked     atomic.Int64
	failed      atomic.Int64
	commands    atomic.Int64
	storeErrors atomic.Int64
}

// Stats contains orchestrator counters.
type Stats struct {
	Allowed     int64 `json:"allowed"`
	Blocked     int64 `json:"blocked"`
	Failed      int64 `json:"failed"`
	Commands    int64 `json:"commands"`
	StoreErrors int64 `json:"store_errors"`
}

// New creates an orchestrator.
func New(cooldowns *cooldown.Tracker, buffer *conversation.Buffer, completer completion.Completer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cooldowns: cooldowns,
		buffer:    buffer,
		completer: completer,
		users:     newKeyLock(),
		logger:    logger,
	}
}

// Handle dispatches a control command or processes a message.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) Reply {
	name, ok := parseCommand(ev.Text)
	if !ok {
		return o.HandleMessage(ctx, ev.UserID, ev.Text)
	}

	switch name {
	case "start":
		o.commands.Add(1)
		return textReply(KindGreeting, greetingText(ev.DisplayName))
	case "help":
		o.commands.Add(1)
		return textReply(KindHelp, helpText)
	case "createchat":
		o.commands.Add(1)
		return o.CreateChat(ctx, ev.UserID)
	case "deletechat":
		o.commands.Add(1)
		return o.DeleteChat(ctx, ev.UserID)
	case "resetchat":
		o.commands.Add(1)
		return o.ResetChat(ctx, ev.UserID)
	default:
		return o.HandleMessage(ctx, ev.UserID, ev.Text)
	}
}

// HandleMessage runs one message through gate, fold and completion.
// The cooldown is armed before the upstream call and stays armed on failure.
// A store that cannot be read or armed ends the request before any upstream
// call; only corrupt or absent data loads as empty and lets it through.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, text string) Reply {
	unlock := o.users.Lock(userID)
	defer unlock()

	// Both stores are written back even if the caller goes away mid-request.
	storeCtx := context.WithoutCancel(ctx)

	expired, err := o.cooldowns.IsExpired(storeCtx, userID)
	if err != nil {
		return o.storeFailure("cooldown check failed", userID, err)
	}
	if !expired {
		remaining, err := o.cooldowns.RemainingSeconds(storeCtx, userID)
		if err != nil {
			o.logger.Warn("cooldown lookup failed", "user_id", userID, "error", err)
		}
		o.blocked.Add(1)
		o.logger.Info("request rate limited", "user_id", userID, "remaining_seconds", remaining)
		return textReply(KindWait, waitText(remaining))
	}

	saveMode, err := o.buffer.SaveMode(storeCtx, userID)
	if err != nil {
		return o.storeFailure("save mode lookup failed", userID, err)
	}

	if err := o.cooldowns.Arm(storeCtx, userID); err != nil {
		return o.storeFailure("failed to arm cooldown", userID, err)
	}

	combined, err := o.buffer.Append(storeCtx, userID, text, saveMode)
	if err != nil {
		o.storeErrors.Add(1)
		o.logger.Error("failed to persist conversation", "user_id", userID, "error", err)
	}

	o.allowed.Add(1)
	o.logger.Info("forwarding message",
		"user_id", userID,
		"save_mode", saveMode,
		"context_length", len(combined),
	)

	reply, err := o.completer.Complete(ctx, combined)
	if err != nil {
		o.failed.Add(1)
		o.logger.Warn("completion failed", "user_id", userID, "error", err)
		return textReply(KindError, diagnosticText(err))
	}
	return Reply{Text: reply, Kind: KindCompletion, DisablePreview: true}
}

// CreateChat turns on save mode for userID.
func (o *Orchestrator) CreateChat(ctx context.Context, userID string) Reply {
	unlock := o.users.Lock(userID)
	defer unlock()

	already, err := o.buffer.CreateSession(context.WithoutCancel(ctx), userID)
	if err != nil {
		return o.storeFailure("failed to create chat session", userID, err)
	}
	if already {
		return textReply(KindSession, sessionActiveText)
	}
	o.logger.Info("chat session created", "user_id", userID)
	return textReply(KindSession, sessionCreatedText)
}

// DeleteChat turns off save mode for userID and forgets its history.
func (o *Orchestrator) DeleteChat(ctx context.Context, userID string) Reply {
	unlock := o.users.Lock(userID)
	defer unlock()

	had, err := o.buffer.DeleteSession(context.WithoutCancel(ctx), userID)
	if err != nil {
		return o.storeFailure("failed to delete chat session", userID, err)
	}
	if !had {
		return textReply(KindSession, sessionNoneText)
	}
	o.logger.Info("chat session deleted", "user_id", userID)
	return textReply(KindSession, sessionDeletedText)
}

// ResetChat forgets userID's buffered turns and keeps save mode.
func (o *Orchestrator) ResetChat(ctx context.Context, userID string) Reply {
	unlock := o.users.Lock(userID)
	defer unlock()

	had, err := o.buffer.ResetHistory(context.WithoutCancel(ctx), userID)
	if err != nil {
		return o.storeFailure("failed to reset chat history", userID, err)
	}
	if !had {
		return textReply(KindSession, historyNoneText)
	}
	return textReply(KindSession, historyResetText)
}

// GetStats returns orchestrator statistics.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Allowed:     o.allowed.Load(),
		Blocked:     o.blocked.Load(),
		Failed:      o.failed.Load(),
		Commands:    o.commands.Load(),
		StoreErrors: o.storeErrors.Load(),
	}
}

func (o *Orchestrator) storeFailure(msg, userID string, err error) Reply {
	o.storeErrors.Add(1)
	o.logger.Error(msg, "user_id", userID, "error", err)
	return textReply(KindError, sessionFailedText)
}

func diagnosticText(err error) string {
	var malformed *completion.MalformedResponseError
	if errors.As(err, &malformed) {
		return malformedText
	}
	return transportFailedText
}

// parseCommand extracts the command name from a leading "/name" or
// "/name@bot" token.
func parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}
