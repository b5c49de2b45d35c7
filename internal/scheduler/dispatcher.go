package scheduler

import (
	"context"

	"github.com/sells-group/spirits-cli/internal/queue"
)

// Dispatcher pushes follow-up product work onto the enrichment queue.
// It satisfies the writer's verification dispatcher and the
// competition orchestrator's enqueuer.
type Dispatcher struct {
	broker *queue.Broker
}

// NewDispatcher wraps a broker.
func NewDispatcher(broker *queue.Broker) *Dispatcher {
	return &Dispatcher{broker: broker}
}

// QueueVerification enqueues a cross-source verification pass.
func (d *Dispatcher) QueueVerification(ctx context.Context, productID string) error {
	task, err := queue.NewTask(queue.KindVerifyProduct, productPayload{ProductID: productID})
	if err != nil {
		return err
	}
	return d.broker.Enqueue(ctx, queue.QueueEnrichment, task)
}

// QueueEnrichment enqueues a multi-source enrichment pass.
func (d *Dispatcher) QueueEnrichment(ctx context.Context, productID string) error {
	task, err := queue.NewTask(queue.KindEnrichProduct, productPayload{ProductID: productID})
	if err != nil {
		return err
	}
	return d.broker.Enqueue(ctx, queue.QueueEnrichment, task)
}
