// Package adherence records how users respond to medicine reminders.
package adherence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/store"
	"github.com/appayureze-cloud/astra/internal/util"
)

// Tracker persists reminder replies and the per-phone reminder preference.
type Tracker struct {
	store store.Store
	nowFn func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithNowFunc overrides the tracker clock for tests.
func WithNowFunc(fn func() time.Time) TrackerOption {
	return func(t *Tracker) { t.nowFn = fn }
}

// NewTracker creates a Tracker over the given store.
func NewTracker(st store.Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: st, nowFn: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordResponse logs one taken/skipped/later reply.
func (t *Tracker) RecordResponse(ctx context.Context, phone string, action models.MedicineAction) error {
	r := models.MedicineResponse{
		PhoneHash: util.HashPhone(phone),
		Action:    action,
		Time:      t.nowFn().UTC(),
	}
	if err := t.store.AddMedicineResponse(ctx, r); err != nil {
		return fmt.Errorf("failed to record medicine response: %w", err)
	}
	slog.Info("Adherence response recorded", "phoneHash", r.PhoneHash, "action", action)
	return nil
}

// StopReminders disables reminder delivery for the phone.
func (t *Tracker) StopReminders(ctx context.Context, phone string) error {
	if err := t.store.SetRemindersEnabled(ctx, phone, false); err != nil {
		return fmt.Errorf("failed to disable reminders: %w", err)
	}
	slog.Info("Adherence reminders stopped", "phoneHash", util.HashPhone(phone))
	return nil
}
