package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger writes audit entries to a structured logger when no database is configured.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger constructs a ZapLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("audit")}
}

// Log writes the entry as one info line.
func (l *ZapLogger) Log(ctx context.Context, entry Entry) error {
	_ = ctx
	if err := entry.validate(); err != nil {
		return err
	}
	entry.fillDefaults()
	l.logger.Info(entry.Action,
		zap.String("audit_id", entry.ID),
		zap.String("actor", entry.Actor),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.String("charger_id", entry.ChargerID),
		zap.ByteString("metadata", entry.Metadata),
		zap.String("payload_digest", entry.PayloadDigest),
		zap.String("ip", entry.IP),
		zap.String("user_agent", entry.UserAgent),
		zap.Time("created_at", entry.CreatedAt),
	)
	return nil
}
