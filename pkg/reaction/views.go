package reaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ex-hermes/pkg/hermes"
	"ex-hermes/pkg/linker"

	"github.com/google/uuid"
)

func newViewID() string {
	return uuid.NewString()
}

// viewTimers strips reply controls once they have been idle for timeout.
//
// Each reply has at most one pending timer; restarting replaces it.
type viewTimers struct {
	dispatcher hermes.SinkDispatcher
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[hermes.MessageRef]*time.Timer
	running sync.WaitGroup
}

func newViewTimers(dispatcher hermes.SinkDispatcher, timeout time.Duration, logger *slog.Logger) *viewTimers {
	return &viewTimers{
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		pending:    make(map[hermes.MessageRef]*time.Timer),
	}
}

func (v *viewTimers) restart(reply linker.Reply) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	if previous, exists := v.pending[reply.Ref]; exists {
		previous.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(v.timeout, func() {
		v.mu.Lock()
		if v.closed || v.pending[reply.Ref] != timer {
			v.mu.Unlock()
			return
		}
		delete(v.pending, reply.Ref)
		v.running.Add(1)
		v.mu.Unlock()

		defer v.running.Done()
		v.clear(reply)
	})
	v.pending[reply.Ref] = timer
}

func (v *viewTimers) stop(reply hermes.MessageRef) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if timer, exists := v.pending[reply]; exists {
		timer.Stop()
		delete(v.pending, reply)
	}
}

// pendingCount returns the number of scheduled expiries.
func (v *viewTimers) pendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.pending)
}

func (v *viewTimers) clear(reply linker.Reply) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()

	err := v.dispatcher.ClearView(ctx, hermes.ClearViewRequest{
		Target:    reply.Target,
		MessageID: reply.Ref.MessageID,
	})
	if err != nil && !hermes.IsOutboundNotFound(err) {
		v.logger.WarnContext(ctx, "clear reply view failed",
			"reply", reply.Ref.String(),
			"error", err,
		)
	}
}

func (v *viewTimers) close() {
	v.mu.Lock()
	v.closed = true
	for ref, timer := range v.pending {
		timer.Stop()
		delete(v.pending, ref)
	}
	v.mu.Unlock()

	v.running.Wait()
}
