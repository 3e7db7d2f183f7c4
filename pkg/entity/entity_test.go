package entity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeClient struct {
	mu       sync.Mutex
	device   types.DeviceInfo
	stats    types.Statistics
	fetchErr error
	modeErr  error
	modes    []types.Mode
	polls    int
}

func (f *fakeClient) GetDevice(ctx context.Context) (types.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.device, f.fetchErr
}

func (f *fakeClient) GetStatistics(ctx context.Context) (types.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeClient) SetMode(ctx context.Context, mode types.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	return f.modeErr
}

func (f *fakeClient) SetSchedule(ctx context.Context) error {
	return f.SetMode(ctx, types.ModeSchedule)
}

func (f *fakeClient) Invalidate() {}

func newTestEntities(t *testing.T, fc *fakeClient) (*Entities, *coordinator.Coordinator) {
	t.Helper()
	c := coordinator.New("e1", fc, coordinator.WithRequestCooldown(0))
	return New("e1", c), c
}

func sampleClient() *fakeClient {
	return &fakeClient{
		device: types.NewDeviceInfo([]any{map[string]any{"model": "V2H", "serial": "SN1", "firmware": "2.0"}}),
		stats: types.Statistics{
			"mode":  "LOADMATCH",
			"state": "Discharging",
			"data": map[string]any{
				"powerToEv":          3500.0,
				"activeEnergyToEv":   12000.0,
				"activeEnergyFromEv": 5000.0,
			},
		},
	}
}

func stateByKey(states []State, uniqueID string) (State, bool) {
	for _, s := range states {
		if s.UniqueID == uniqueID {
			return s, true
		}
	}
	return State{}, false
}

func TestEntityStates(t *testing.T) {
	ctx := context.Background()
	ents, c := newTestEntities(t, sampleClient())

	t.Run("Unavailable Before First Poll", func(t *testing.T) {
		for _, st := range ents.States() {
			assert.False(t, st.Available, st.EntityID)
			assert.Nil(t, st.State, st.EntityID)
		}
		_, ok := ents.Select.CurrentOption()
		assert.False(t, ok)
	})

	require.NoError(t, c.Refresh(ctx))
	states := ents.States()
	require.Len(t, states, 7)

	tests := []struct {
		key   string
		state any
		unit  string
	}{
		{"power", 3.5, UnitKilowatt},
		{"energy", 12.0, UnitKilowattHour},
		{"status", "Discharging", ""},
		{"model", "V2H", ""},
		{"serial", "SN1", ""},
		{"firmware", "2.0", ""},
		{"mode", "loadmatch", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			st, ok := stateByKey(states, "indra_v2h_e1_"+tt.key)
			require.True(t, ok)
			assert.True(t, st.Available)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.unit, st.Unit)
		})
	}

	power, _ := stateByKey(states, "indra_v2h_e1_power")
	assert.Equal(t, "sensor.indra_v2h_e1_power", power.EntityID)
	assert.Equal(t, "Indra V2H Power", power.Name)
	assert.Equal(t, StateClassMeasurement, power.Attributes["state_class"])

	mode, _ := stateByKey(states, "indra_v2h_e1_mode")
	assert.Equal(t, "select.indra_v2h_e1_mode", mode.EntityID)
	assert.Equal(t, types.ModeOptions(), mode.Attributes["options"])

	assert.Equal(t, "Indra V2H Charger", ents.Device.Name)
	assert.Equal(t, "Indra", ents.Device.Manufacturer)
}

func TestEntityUnavailableAfterFailure(t *testing.T) {
	fc := sampleClient()
	ents, c := newTestEntities(t, fc)
	require.NoError(t, c.Refresh(context.Background()))

	fc.fetchErr = errors.New("cloud down")
	require.Error(t, c.Refresh(context.Background()))

	for _, s := range ents.Sensors {
		assert.False(t, s.Available())
	}
	// the last good snapshot is still there for display
	v, ok := ents.Sensors[0].Value()
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)
}

func TestModeSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("Valid Option", func(t *testing.T) {
		fc := sampleClient()
		ents, _ := newTestEntities(t, fc)

		require.NoError(t, ents.Select.SelectOption(ctx, "discharge"))
		assert.Equal(t, []types.Mode{types.ModeDischarge}, fc.modes)
		assert.Equal(t, 1, fc.polls, "a refresh should be requested after the mode change")
	})

	t.Run("Invalid Option", func(t *testing.T) {
		fc := sampleClient()
		ents, _ := newTestEntities(t, fc)

		assert.NoError(t, ents.Select.SelectOption(ctx, "turbo"))
		assert.Empty(t, fc.modes)
		assert.Zero(t, fc.polls)
	})

	t.Run("Remote Failure", func(t *testing.T) {
		fc := sampleClient()
		boom := errors.New("rejected")
		fc.modeErr = boom
		ents, _ := newTestEntities(t, fc)

		err := ents.Select.SelectOption(ctx, "charge")
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, fc.polls)
	})

	t.Run("Unrecognized Device Mode Shows Idle", func(t *testing.T) {
		fc := sampleClient()
		fc.stats = types.Statistics{"mode": "BOOST"}
		ents, c := newTestEntities(t, fc)
		require.NoError(t, c.Refresh(ctx))

		opt, ok := ents.Select.CurrentOption()
		assert.True(t, ok)
		assert.Equal(t, "idle", opt)
	})
}
