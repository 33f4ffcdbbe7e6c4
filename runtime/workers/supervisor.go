package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/errors"
)

const restartDelay = 200 * time.Millisecond

// Supervisor runs each worker in its own goroutine, recovers panics,
// and restarts crashed workers after a short delay. A failure in one
// worker never stops the supervisor or its siblings. Stop cancels the
// supervised context and Run returns once every goroutine drained.
type Supervisor struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *slog.Logger
	workers []contract.Worker
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log}
}

func (s *Supervisor) Add(worker ...contract.Worker) *Supervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Run blocks until every supervised worker has finished. The local
// cancel is tied to the parent context: a parent cancellation stops
// the children, and Stop only stops the children.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	for _, worker := range s.workers {
		s.supervise(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	name := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		for {
			if ctx.Err() != nil {
				s.log.Info("worker stopping", "name", name)
				return
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("worker panicked", "name", name, "panic", r)
						err = errors.ErrWorkerPanic
					}
				}()
				return worker.Run(ctx)
			}()

			if err == nil {
				// Terminated properly, never restart.
				s.log.Info("worker finished", "name", name)
				return
			}
			if ctx.Err() != nil {
				s.log.Info("worker stopped (context canceled)", "name", name)
				return
			}

			s.log.Warn("worker crashed, restarting", "name", name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(restartDelay):
			}
		}
	}()
}

// Stop cancels the supervised context; Run keeps waiting for the
// goroutines to drain before returning.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
