package v2h

import (
	"context"

	"github.com/raterudder/indrav2h/pkg/types"
)

// Client is the uniform contract the coordinator and entities use to talk to
// a charger account.
type Client interface {
	// GetDevice returns the device records, refreshing them only when no
	// device is cached.
	GetDevice(ctx context.Context) (types.DeviceInfo, error)

	// GetStatistics refreshes and returns the charger statistics.
	GetStatistics(ctx context.Context) (types.Statistics, error)

	// SetMode commands the charger into mode.
	SetMode(ctx context.Context, mode types.Mode) error

	// SetSchedule returns the charger to its portal schedule.
	SetSchedule(ctx context.Context) error

	// Invalidate empties the device cache so the next GetDevice refreshes it.
	Invalidate()
}

// remoteClient is the part of the cloud library client the adapter uses.
type remoteClient interface {
	RefreshDevice(ctx context.Context) error
	RefreshStats(ctx context.Context) error
	Device() remoteDevice
}

// remoteDevice is the part of the cloud library device the adapter uses.
type remoteDevice interface {
	Data() types.DeviceInfo
	Stats() types.Statistics
	RefreshStats(ctx context.Context) error
	Idle(ctx context.Context) error
	LoadMatch(ctx context.Context) error
	Schedule(ctx context.Context) error
	SelectChargerMode(ctx context.Context, mode string) error
}
