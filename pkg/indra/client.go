package indra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
)

// ErrNoDevice is returned when the account has no charger registered.
var ErrNoDevice = errors.New("indra: no device on account")

// Client gives access to the charger registered on an account.
type Client struct {
	conn *Connection

	mu     sync.Mutex
	device *Device
}

// NewClient returns a client using the given connection.
func NewClient(conn *Connection) *Client {
	return &Client{conn: conn}
}

// Device returns the charger or nil until RefreshDevice has succeeded once.
func (c *Client) Device() *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// RefreshDevice fetches the device records for the account. The first record
// identifies the charger used for stats and mode changes.
func (c *Client) RefreshDevice(ctx context.Context) error {
	var raw any
	if err := c.conn.get(ctx, devicesPath, &raw); err != nil {
		return fmt.Errorf("get devices failed: %w", err)
	}

	info := types.NewDeviceInfo(raw)
	first := info.First()
	if first == nil {
		return ErrNoDevice
	}
	serial, ok := first["serial"]
	if !ok || serial == nil || fmt.Sprint(serial) == "" {
		return errors.New("indra: device has no serial")
	}

	log.Ctx(ctx).DebugContext(ctx, "indra devices refreshed",
		slog.Int("count", info.Len()),
		slog.String("serial", fmt.Sprint(serial)),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || c.device.Serial() != fmt.Sprint(serial) {
		c.device = newDevice(c.conn, fmt.Sprint(serial))
	}
	c.device.setData(info)
	return nil
}

// RefreshStats refreshes the charger's stats, fetching the device first if it
// isn't known yet.
func (c *Client) RefreshStats(ctx context.Context) error {
	d := c.Device()
	if d == nil {
		if err := c.RefreshDevice(ctx); err != nil {
			return err
		}
		d = c.Device()
	}
	return d.RefreshStats(ctx)
}

// Refresh fetches both the device records and the stats.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.RefreshDevice(ctx); err != nil {
		return err
	}
	return c.Device().RefreshStats(ctx)
}
