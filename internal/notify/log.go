package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to the structured log. Used when no broker is set.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) {
	n.logger.Info("notification",
		"type", e.Type,
		"subject_id", e.SubjectID,
		"reference", e.Reference,
		"hostel_owner_id", e.HostelOwnerID,
		"amount", e.Amount,
		"status", e.Status,
	)
}
