package bot

import (
	"context"

	"telegram_ledger/internal/flow"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageCleaner deletes the prompt messages a flow left in the chat
type MessageCleaner struct {
	api API
}

// NewMessageCleaner creates a cleaner over the bot API
func NewMessageCleaner(api API) *MessageCleaner {
	return &MessageCleaner{api: api}
}

// Cleanup deletes every message and reports each result. A message may
// already be gone or too old to delete; callers decide what to do about it.
func (c *MessageCleaner) Cleanup(ctx context.Context, chatID int64, artifacts []int) []flow.CleanupOutcome {
	out := make([]flow.CleanupOutcome, 0, len(artifacts))
	for _, id := range artifacts {
		if err := ctx.Err(); err != nil {
			out = append(out, flow.CleanupOutcome{ArtifactID: id, Err: err})
			continue
		}
		_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, id))
		out = append(out, flow.CleanupOutcome{ArtifactID: id, Err: err})
	}
	return out
}
