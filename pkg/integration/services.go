package integration

import (
	"context"
	"log/slog"

	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
)

// ServiceCall is the payload of the set_mode and set_schedule services.
type ServiceCall struct {
	EntryID   string `json:"entry_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// SetModeService commands the charger into call.Mode and requests a refresh.
// Failures are logged and never returned.
func (r *Registry) SetModeService(ctx context.Context, call ServiceCall) {
	mode, err := types.ParseMode(call.Mode)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid mode", slog.String("mode", call.Mode))
		return
	}
	entry, err := r.resolve(call.EntryID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error setting mode", slog.Any("error", err))
		return
	}
	ctx = log.WithEntry(ctx, entry.ID)

	if err := entry.Coordinator.Client().SetMode(ctx, mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error setting mode", slog.String("mode", mode.String()), slog.Any("error", err))
		return
	}
	if err := entry.Coordinator.RequestRefresh(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error refreshing after setting mode", slog.Any("error", err))
	}
}

// SetScheduleService returns the charger to its schedule. The schedule times
// are only logged; the charger keeps the schedule configured in the portal.
func (r *Registry) SetScheduleService(ctx context.Context, call ServiceCall) {
	mode := call.Mode
	if mode == "" {
		mode = types.ModeCharge.String()
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"setting schedule",
		slog.String("mode", mode),
		slog.String("start", call.StartTime),
		slog.String("end", call.EndTime),
	)

	entry, err := r.resolve(call.EntryID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error setting schedule", slog.Any("error", err))
		return
	}
	ctx = log.WithEntry(ctx, entry.ID)

	if err := entry.Coordinator.Client().SetSchedule(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error setting schedule", slog.Any("error", err))
		return
	}
	if err := entry.Coordinator.RequestRefresh(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error refreshing after setting schedule", slog.Any("error", err))
	}
}
