package webhook

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "checkout",
	Subsystem: "webhook",
	Name:      "events_dispatched_total",
	Help:      "Webhook events handed to the dispatcher, by event type.",
}, []string{"event_type"})

// Emitter narrows Dispatcher to the two order lifecycle events the
// checkout engine is allowed to publish, and counts each dispatch.
type Emitter struct {
	dispatcher *Dispatcher
}

func NewEmitter(dispatcher *Dispatcher) *Emitter {
	return &Emitter{dispatcher: dispatcher}
}

func (e *Emitter) OrderCreated(ctx context.Context, order any) error {
	deliveriesDispatched.WithLabelValues(string(EventOrderCreated)).Inc()
	return e.dispatcher.Dispatch(ctx, EventOrderCreated, order)
}

func (e *Emitter) OrderUpdated(ctx context.Context, order any) error {
	deliveriesDispatched.WithLabelValues(string(EventOrderUpdated)).Inc()
	return e.dispatcher.Dispatch(ctx, EventOrderUpdated, order)
}
