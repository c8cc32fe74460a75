package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nhle/otp-forwarder/internal/backoff"
	"github.com/nhle/otp-forwarder/internal/deliver"
	"github.com/nhle/otp-forwarder/internal/history"
	"github.com/nhle/otp-forwarder/internal/poll"
	"github.com/nhle/otp-forwarder/internal/store"
)

const (
	longPollSec       = 30
	defaultRecentSize = 10
	maxListedMessages = 25
)

const helpText = `OTP forwarder commands:

/start - check that the bot is alive
/help - this text

Admin only:
/status - pipeline status
/recent [n] - last n delivered messages (default 10)
/last - most recent delivered message
/history <start> <end> - fetch a date range from the source (YYYY-MM-DD)
/export <start> <end> - CSV export of the local archive`

// Bot is the inbound control surface: a long-polling Telegram command
// handler. Query and control commands are restricted to an allow-listed
// set of admin user IDs.
type Bot struct {
	client  *Client
	admins  map[int64]bool
	archive store.Store // may be nil
	loop    *poll.Loop
	queue   *deliver.Queue
	history *history.Query

	startedAt time.Time
}

// NewBot creates the command bot. archive may be nil when running
// without persistence; the archive-backed commands then report that.
func NewBot(client *Client, adminIDs []int64, archive store.Store, loop *poll.Loop, queue *deliver.Queue, hist *history.Query) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		client:    client,
		admins:    admins,
		archive:   archive,
		loop:      loop,
		queue:     queue,
		history:   hist,
		startedAt: time.Now(),
	}
}

// Run long-polls for updates and dispatches commands until the context
// is canceled. Update fetch errors back off briefly and keep going.
func (b *Bot) Run(ctx context.Context) error {
	log.Info().Int("admins", len(b.admins)).Msg("Command bot started")

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := b.client.GetUpdates(ctx, offset, longPollSec)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("Fetching bot updates failed")
			if !backoff.Sleep(ctx, 5*time.Second) {
				return nil
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, upd.Message)
		}
	}
}

// NotifyAdmins sends a text to every admin, best effort.
func (b *Bot) NotifyAdmins(ctx context.Context, text string) {
	for id := range b.admins {
		if err := b.client.SendMessage(ctx, id, text); err != nil {
			log.Warn().Err(err).Int64("admin_id", id).Msg("Failed to notify admin")
		}
	}
}

// ReportTerminalFailure tells admins about a dropped delivery task.
// Wired as the queue's terminal-failure callback.
func (b *Bot) ReportTerminalFailure(task deliver.Task, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.NotifyAdmins(ctx, fmt.Sprintf(
		"Delivery of message %s to chat %d failed after %d attempts: %v",
		task.Message.ID, task.Destination, task.Attempts, err))
}

func (b *Bot) handleMessage(ctx context.Context, msg *IncomingMessage) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}

	// Commands in groups arrive as /cmd@botname.
	command, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch command {
	case "/start":
		b.reply(ctx, msg.Chat.ID, "OTP forwarder is running. Use /help for commands.")
		return
	case "/help":
		b.reply(ctx, msg.Chat.ID, helpText)
		return
	}

	if !b.admins[msg.From.ID] {
		log.Warn().Int64("user_id", msg.From.ID).Str("command", command).Msg("Rejected command from non-admin")
		b.reply(ctx, msg.Chat.ID, "Access denied.")
		return
	}

	switch command {
	case "/status":
		b.handleStatus(ctx, msg.Chat.ID)
	case "/recent":
		b.handleRecent(ctx, msg.Chat.ID, args)
	case "/last":
		b.handleRecent(ctx, msg.Chat.ID, []string{"1"})
	case "/history":
		b.handleHistory(ctx, msg.Chat.ID, args)
	case "/export":
		b.handleExport(ctx, msg.Chat.ID, args)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st := b.loop.Status()
	delivered, failed := b.queue.Stats()

	lastPoll := "never"
	if !st.LastPollAt.IsZero() {
		lastPoll = st.LastPollAt.Format("2006-01-02 15:04:05")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", st.State)
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(b.startedAt).Round(time.Second))
	fmt.Fprintf(&sb, "Last successful poll: %s\n", lastPoll)
	fmt.Fprintf(&sb, "Cycles: %d, new messages: %d\n", st.Cycles, st.NewMessages)
	fmt.Fprintf(&sb, "Delivered: %d, terminal failures: %d\n", delivered, failed)
	fmt.Fprintf(&sb, "Queue depth: %d\n", b.queue.Depth())
	if st.LastError != "" {
		fmt.Fprintf(&sb, "Last error: %s (%d consecutive)\n", st.LastError, st.Failures)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleRecent(ctx context.Context, chatID int64, args []string) {
	if b.archive == nil {
		b.reply(ctx, chatID, "No local archive configured.")
		return
	}

	limit := defaultRecentSize
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			b.reply(ctx, chatID, "Usage: /recent [n]")
			return
		}
		limit = min(n, maxListedMessages)
	}

	msgs, err := b.archive.RecentMessages(ctx, limit)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Lookup failed: %v", err))
		return
	}
	if len(msgs) == 0 {
		b.reply(ctx, chatID, "No messages in the archive yet.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d messages:\n\n", len(msgs))
	for i, m := range msgs {
		fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n\n",
			i+1, m.Sender, m.ReceivedAt.Format("2006-01-02 15:04:05"), m.Body)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, args []string) {
	start, end, ok := parseDateRange(args)
	if !ok {
		b.reply(ctx, chatID, "Usage: /history <start> <end> (YYYY-MM-DD)")
		return
	}

	msgs, err := b.history.Run(ctx, start, end)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("History query failed: %v", err))
		return
	}
	if len(msgs) == 0 {
		b.reply(ctx, chatID, "No messages in that range.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d messages from %s to %s:\n\n",
		len(msgs), args[0], args[1])
	for i, m := range msgs {
		if i == maxListedMessages {
			fmt.Fprintf(&sb, "... and %d more (use /export for the full set)\n", len(msgs)-i)
			break
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n\n",
			i+1, m.Sender, m.ReceivedAt.Format("2006-01-02 15:04:05"), m.Body)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleExport(ctx context.Context, chatID int64, args []string) {
	if b.archive == nil {
		b.reply(ctx, chatID, "No local archive configured.")
		return
	}

	start, end, ok := parseDateRange(args)
	if !ok {
		b.reply(ctx, chatID, "Usage: /export <start> <end> (YYYY-MM-DD)")
		return
	}

	csv, err := b.archive.ExportCSV(ctx, start, end)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Export failed: %v", err))
		return
	}
	if csv == "" {
		b.reply(ctx, chatID, "No messages in that range.")
		return
	}

	filename := fmt.Sprintf("messages_%s_%s.csv", args[0], args[1])
	caption := fmt.Sprintf("Archive export %s to %s", args[0], args[1])
	if err := b.client.SendDocument(ctx, chatID, filename, []byte(csv), caption); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Upload failed: %v", err))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send bot reply")
	}
}

// parseDateRange parses two YYYY-MM-DD arguments into an inclusive
// range spanning whole days.
func parseDateRange(args []string) (start, end time.Time, ok bool) {
	if len(args) < 2 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse("2006-01-02", args[1])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end = end.AddDate(0, 0, 1).Add(-time.Second)
	return start, end, true
}
