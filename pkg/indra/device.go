package indra

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
)

// Charger modes understood by SelectChargerMode.
const (
	ChargerModeCharge      = "CHARGE"
	ChargerModeDischarge   = "DISCHARGE"
	ChargerModeExportMatch = "EXPORT_MATCH"
)

const (
	modeIdle      = "IDLE"
	modeLoadMatch = "LOAD_MATCH"
	modeSchedule  = "SCHEDULE"
)

// Device is a single V2H charger.
type Device struct {
	conn   *Connection
	serial string

	mu    sync.RWMutex
	data  types.DeviceInfo
	stats types.Statistics
}

func newDevice(conn *Connection, serial string) *Device {
	return &Device{conn: conn, serial: serial}
}

// Serial returns the charger serial number.
func (d *Device) Serial() string {
	return d.serial
}

// Data returns the device records from the last device refresh.
func (d *Device) Data() types.DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data
}

// Stats returns the stats from the last stats refresh or nil.
func (d *Device) Stats() types.Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

func (d *Device) setData(info types.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = info
}

func (d *Device) endpoint(parts ...string) (string, error) {
	return url.JoinPath(devicesPath, append([]string{url.PathEscape(d.serial)}, parts...)...)
}

// RefreshStats fetches the current mode, state and energy counters.
func (d *Device) RefreshStats(ctx context.Context) error {
	endpoint, err := d.endpoint("stats")
	if err != nil {
		return err
	}
	var stats types.Statistics
	if err := d.conn.get(ctx, endpoint, &stats); err != nil {
		return fmt.Errorf("get stats failed: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "indra stats refreshed",
		slog.String("serial", d.serial),
		slog.Any("mode", stats["mode"]),
		slog.Any("state", stats["state"]),
	)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = stats
	return nil
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (d *Device) setMode(ctx context.Context, mode string) error {
	endpoint, err := d.endpoint("mode")
	if err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "setting indra charger mode", slog.String("serial", d.serial), slog.String("mode", mode))
	if err := d.conn.post(ctx, endpoint, modeRequest{Mode: mode}, nil); err != nil {
		return fmt.Errorf("set mode %s failed: %w", mode, err)
	}
	return nil
}

// Idle stops charging and discharging.
func (d *Device) Idle(ctx context.Context) error {
	return d.setMode(ctx, modeIdle)
}

// LoadMatch discharges to match the home load.
func (d *Device) LoadMatch(ctx context.Context) error {
	return d.setMode(ctx, modeLoadMatch)
}

// Schedule returns the charger to its portal schedule.
func (d *Device) Schedule(ctx context.Context) error {
	return d.setMode(ctx, modeSchedule)
}

// SelectChargerMode forces one of ChargerModeCharge, ChargerModeDischarge or
// ChargerModeExportMatch. Other values are rejected without a request.
func (d *Device) SelectChargerMode(ctx context.Context, mode string) error {
	switch mode {
	case ChargerModeCharge, ChargerModeDischarge, ChargerModeExportMatch:
		return d.setMode(ctx, mode)
	default:
		return fmt.Errorf("invalid charger mode: %q", mode)
	}
}
