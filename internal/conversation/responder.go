package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/appayureze-cloud/astra/internal/messaging"
	"github.com/appayureze-cloud/astra/internal/store"
)

// Responder pumps inbound messages from a messaging service through the
// dispatcher and writes delivery receipts to the store.
type Responder struct {
	svc        messaging.Service
	dispatcher *Dispatcher
	store      store.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResponder creates a Responder over the given service and dispatcher.
func NewResponder(svc messaging.Service, d *Dispatcher, st store.Store) *Responder {
	return &Responder{svc: svc, dispatcher: d, store: st}
}

// Start launches the message and receipt pumps. They run until Stop is
// called or the service closes its channels.
func (r *Responder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.pumpResponses(ctx)
	go r.pumpReceipts(ctx)
	slog.Info("Responder started")
}

// Stop halts both pumps and waits for in-flight work to finish.
func (r *Responder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	slog.Info("Responder stopped")
}

func (r *Responder) pumpResponses(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.svc.Responses():
			if !ok {
				return
			}
			for _, out := range r.dispatcher.HandleMessage(ctx, msg) {
				if err := messaging.Send(ctx, r.svc, out); err != nil {
					slog.Error("Responder send failed", "error", err, "to", out.To)
				}
			}
		}
	}
}

func (r *Responder) pumpReceipts(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-r.svc.Receipts():
			if !ok {
				return
			}
			if err := r.store.AddReceipt(ctx, receipt); err != nil {
				slog.Error("Responder receipt save failed", "error", err, "to", receipt.To)
			}
		}
	}
}
