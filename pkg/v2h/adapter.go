package v2h

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raterudder/indrav2h/pkg/indra"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
)

// errNoDevice is returned by SetMode when the cloud did not return a device.
var errNoDevice = errors.New("no device available")

// RemoteOperationError is a failed mode change on the cloud.
type RemoteOperationError struct {
	Mode types.Mode
	Err  error
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("set mode %s failed: %v", e.Mode, e.Err)
}

func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

type cacheState int

const (
	cacheEmpty cacheState = iota
	cachePopulated
)

// deviceCache holds the library device between polls.
type deviceCache struct {
	state  cacheState
	device remoteDevice
}

func (c *deviceCache) get() (remoteDevice, bool) {
	if c.state != cachePopulated {
		return nil, false
	}
	return c.device, true
}

func (c *deviceCache) store(d remoteDevice) {
	if d == nil {
		c.invalidate()
		return
	}
	c.state = cachePopulated
	c.device = d
}

func (c *deviceCache) invalidate() {
	c.state = cacheEmpty
	c.device = nil
}

// libraryClient lets *indra.Client satisfy remoteClient.
type libraryClient struct {
	c *indra.Client
}

func (l libraryClient) RefreshDevice(ctx context.Context) error {
	return l.c.RefreshDevice(ctx)
}

func (l libraryClient) RefreshStats(ctx context.Context) error {
	return l.c.RefreshStats(ctx)
}

func (l libraryClient) Device() remoteDevice {
	// avoid returning a typed nil
	if d := l.c.Device(); d != nil {
		return d
	}
	return nil
}

// Adapter implements Client on top of the Indra cloud library. Remote calls
// for one account are serialized.
type Adapter struct {
	remote remoteClient

	mu    sync.Mutex
	cache deviceCache
}

var _ Client = (*Adapter)(nil)

// New returns an adapter for the account. No network call is made.
func New(email, password string, opts ...indra.Option) *Adapter {
	return NewFromLibrary(indra.NewClient(indra.NewConnection(email, password, opts...)))
}

// NewFromLibrary wraps an existing library client.
func NewFromLibrary(c *indra.Client) *Adapter {
	return newAdapter(libraryClient{c: c})
}

func newAdapter(remote remoteClient) *Adapter {
	return &Adapter{remote: remote}
}

// ensureDevice returns the cached device, refreshing the device when the
// cache is empty. Must be called with a.mu held.
func (a *Adapter) ensureDevice(ctx context.Context) (remoteDevice, error) {
	if d, ok := a.cache.get(); ok {
		return d, nil
	}
	if err := a.remote.RefreshDevice(ctx); err != nil {
		return nil, err
	}
	a.cache.store(a.remote.Device())
	d, _ := a.cache.get()
	return d, nil
}

// Invalidate empties the device cache.
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.invalidate()
}

// GetDevice returns the device records or an empty DeviceInfo if the cloud did
// not return a device.
func (a *Adapter) GetDevice(ctx context.Context) (types.DeviceInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.ensureDevice(ctx)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	if d == nil {
		log.Ctx(ctx).WarnContext(ctx, "no device returned by cloud")
		return types.DeviceInfo{}, nil
	}
	return d.Data(), nil
}

// GetStatistics does a full refresh when no device is cached and a stats-only
// refresh otherwise.
func (a *Adapter) GetStatistics(ctx context.Context) (types.Statistics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.cache.get()
	if !ok {
		if err := a.remote.RefreshStats(ctx); err != nil {
			return nil, err
		}
		a.cache.store(a.remote.Device())
		d, ok = a.cache.get()
	} else if err := d.RefreshStats(ctx); err != nil {
		return nil, err
	}
	if !ok {
		return types.Statistics{}, nil
	}
	stats := d.Stats()
	if stats == nil {
		return types.Statistics{}, nil
	}
	return stats, nil
}

// SetMode dispatches to exactly one remote operation. Values outside the
// enumeration are rejected before any remote call.
func (a *Adapter) SetMode(ctx context.Context, mode types.Mode) error {
	if !mode.Valid() {
		return &types.UnknownModeError{Value: mode.String()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.ensureDevice(ctx)
	if err != nil {
		return &RemoteOperationError{Mode: mode, Err: err}
	}
	if d == nil {
		return &RemoteOperationError{Mode: mode, Err: errNoDevice}
	}

	log.Ctx(ctx).DebugContext(ctx, "dispatching mode", slog.String("mode", mode.String()))
	switch mode {
	case types.ModeIdle:
		err = d.Idle(ctx)
	case types.ModeCharge:
		err = d.SelectChargerMode(ctx, indra.ChargerModeCharge)
	case types.ModeDischarge:
		err = d.SelectChargerMode(ctx, indra.ChargerModeDischarge)
	case types.ModeLoadMatch:
		err = d.LoadMatch(ctx)
	case types.ModeExportMatch:
		err = d.SelectChargerMode(ctx, indra.ChargerModeExportMatch)
	case types.ModeSchedule:
		err = d.Schedule(ctx)
	default:
		return &types.UnknownModeError{Value: mode.String()}
	}
	if err != nil {
		return &RemoteOperationError{Mode: mode, Err: err}
	}
	return nil
}

// SetSchedule is SetMode(ctx, types.ModeSchedule).
func (a *Adapter) SetSchedule(ctx context.Context) error {
	return a.SetMode(ctx, types.ModeSchedule)
}
