package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/model"
)

// UsageStore - audit log sink
type UsageStore interface {
	InsertUsageLog(ctx context.Context, entry model.UsageEntry) error
}

// UsageLogger - writes one audit row per top-level request
type UsageLogger struct {
	store UsageStore
}

func NewUsageLogger(store UsageStore) *UsageLogger {
	return &UsageLogger{store: store}
}

// LogAPIUsage - best effort; failures are logged and swallowed
// The write outlives the request context so a client disconnect does not drop the row.
func (u *UsageLogger) LogAPIUsage(ctx context.Context, entry model.UsageEntry) {
	if u == nil || u.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := u.store.InsertUsageLog(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("user", entry.UserID).
			Str("endpoint", entry.Endpoint).
			Int("status", entry.StatusCode).
			Msg("❌ [Usage] Failed to write usage log")
	}
}
