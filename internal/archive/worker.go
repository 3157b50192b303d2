package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"netoffice/internal/approval"
	"netoffice/internal/attendance"
	"netoffice/internal/events"
	"netoffice/internal/queue"
)

// Worker drains the event queue into the repository.
type Worker struct {
	Queue queue.Queue
	Repo  *Repository
	Log   logrus.FieldLogger
}

// Run consumes until ctx ends. Messages that fail are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.Queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	w.Log.Info("archive worker started, waiting for messages")
	for msg := range messages {
		if err := w.Handle(ctx, msg); err != nil {
			w.Log.WithError(err).WithField("type", msg.Type).Warn("archive message failed")
		}
	}
	w.Log.Info("archive worker stopped")
	return nil
}

// Handle archives one message. Types the archive does not keep are ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case events.TypeEntryLogged:
		var e attendance.LogEntry
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		if err := w.Repo.InsertEntry(ctx, e); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		w.Log.WithFields(logrus.Fields{"entry": e.ID, "owner": e.Owner}).Debug("entry archived")
	case events.TypeRequestResolved:
		var r approval.Request
		if err := json.Unmarshal(msg.Body, &r); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		if err := w.Repo.InsertResolution(ctx, r); err != nil {
			return fmt.Errorf("insert resolution %s: %w", r.ID, err)
		}
		w.Log.WithFields(logrus.Fields{"request": r.ID, "status": r.Status}).Debug("resolution archived")
	}
	return nil
}
