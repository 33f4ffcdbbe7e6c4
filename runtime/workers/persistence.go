package workers

import (
	"context"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/repositories"
)

// Ensure *PersistenceWorker implements the contract.Worker interface at
// compile time.
var _ contract.Worker = (*PersistenceWorker)(nil)

// PersistenceWorker drains the engine's append queue into the history
// store. It is the only component that writes message records, keeping
// persistence fully decoupled from the delivery path: the engine does
// a non-blocking enqueue and moves on, so a slow or failing store never
// stalls fan-out. Append failures are logged and counted, the message
// already delivered to sessions is not retracted.
type PersistenceWorker struct {
	history repositories.IHistoryRepository
	queue   <-chan repositories.StoredMessage
	stats   *observability.RelayStats
	log     *slog.Logger
}

func NewPersistenceWorker(history repositories.IHistoryRepository,
	queue <-chan repositories.StoredMessage,
	stats *observability.RelayStats, log *slog.Logger) *PersistenceWorker {
	return &PersistenceWorker{
		history: history,
		queue:   queue,
		stats:   stats,
		log:     log,
	}
}

func (w *PersistenceWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("stopping persistence worker, flushing queued appends")
			w.flush()
			return ctx.Err()
		case message, ok := <-w.queue:
			if !ok {
				w.log.Debug("append queue closed")
				return nil
			}
			w.append(message)
		}
	}
}

// flush drains whatever is already buffered at shutdown so accepted
// messages still reach the store. It never waits for new ones.
func (w *PersistenceWorker) flush() {
	for {
		select {
		case message, ok := <-w.queue:
			if !ok {
				return
			}
			w.append(message)
		default:
			return
		}
	}
}

func (w *PersistenceWorker) append(message repositories.StoredMessage) {
	if err := w.history.Append(message); err != nil {
		w.stats.PersistFailures.Add(1)
		w.log.Error("message append failed",
			"room", message.Room, "author", message.Author, "error", err)
	}
}
