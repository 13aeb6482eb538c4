package tasks

import (
	"context"
	"errors"
	"log"

	"github.com/hibiken/asynq"

	"boligmarked/market/internal/events"
	"boligmarked/market/internal/models"
)

// Dispatcher turns local change events into notification tasks. Events relayed
// from other processes are ignored; their origin enqueues them.
type Dispatcher struct {
	bus *events.Bus
	enq Enqueuer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(bus *events.Bus, enq Enqueuer) *Dispatcher {
	return &Dispatcher{bus: bus, enq: enq}
}

// Run enqueues tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.bus.Subscribe(events.OfferSubmitted, events.MessageSent, events.ShowingBooked)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Origin != d.bus.ID() {
				continue
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev events.Event) {
	task, err := taskFor(ev)
	if err != nil {
		log.Printf("Warning: cannot build task for %s event: %v", ev.Type, err)
		return
	}
	if task == nil {
		return
	}
	_, err = d.enq.EnqueueContext(ctx, task, asynq.TaskID(task.Type()+":"+ev.EntityID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return
	}
	if err != nil {
		log.Printf("ERROR failed to enqueue %s task for %s: %v", task.Type(), ev.EntityID, err)
	}
}

func taskFor(ev events.Event) (*asynq.Task, error) {
	switch ev.Type {
	case events.OfferSubmitted:
		o, ok := ev.Payload.(models.Offer)
		if !ok {
			return nil, nil
		}
		return newTask(TypeNotifyOffer, OfferNotifyPayload{CaseID: o.CaseID, OfferID: o.ID})
	case events.MessageSent:
		m, ok := ev.Payload.(models.Message)
		if !ok {
			return nil, nil
		}
		return newTask(TypeNotifyMessage, MessageNotifyPayload{CaseID: m.CaseID, MessageID: m.ID})
	case events.ShowingBooked:
		return newTask(TypeNotifyShowing, ShowingNotifyPayload{CaseID: ev.EntityID})
	}
	return nil, nil
}
