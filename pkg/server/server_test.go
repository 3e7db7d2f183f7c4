package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/integration"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/metrics"
	"github.com/raterudder/indrav2h/pkg/storage"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/raterudder/indrav2h/pkg/v2h"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeClient struct {
	mu        sync.Mutex
	modeErr   error
	modes     []types.Mode
	schedules int
}

func (f *fakeClient) GetDevice(ctx context.Context) (types.DeviceInfo, error) {
	return types.NewDeviceInfo([]any{map[string]any{"model": "V2H", "serial": "SN1", "firmware": "1.0"}}), nil
}

func (f *fakeClient) GetStatistics(ctx context.Context) (types.Statistics, error) {
	return types.Statistics{
		"mode":  "CHARGE",
		"state": "Charging",
		"data":  map[string]any{"powerToEv": 3500.0, "activeEnergyToEv": 12000.0},
	}, nil
}

func (f *fakeClient) SetMode(ctx context.Context, mode types.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	return f.modeErr
}

func (f *fakeClient) SetSchedule(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules++
	return f.modeErr
}

func (f *fakeClient) Invalidate() {}

func (f *fakeClient) sentModes() []types.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Mode(nil), f.modes...)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	client  *fakeClient
	db      *storage.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fc := &fakeClient{}
	db := storage.NewMemory()
	m := metrics.New()
	reg := integration.NewRegistry(
		integration.WithClientFactory(func(cfg types.EntryConfig) v2h.Client { return fc }),
		integration.WithSnapshotStore(db),
		integration.WithObserver(m),
		integration.WithCoordinatorOptions(
			coordinator.WithInterval(time.Hour),
			coordinator.WithRequestCooldown(0),
		),
	)
	_, err := reg.Setup(context.Background(), types.EntryConfig{ID: "home", Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	t.Cleanup(reg.UnloadAll)
	m.Watch(reg)

	srv := &Server{
		registry:   reg,
		storage:    db,
		metrics:    m,
		bypassAuth: true,
		serverName: "test",
	}
	return &testEnv{srv: srv, handler: srv.setupHandler(), client: fc, db: db}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "test", rr.Header().Get("Server"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestListEntries(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var entries []entryResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "home", entries[0].ID)
	assert.True(t, entries[0].Available)
	assert.Equal(t, "idle", entries[0].State)
	assert.False(t, entries[0].LastUpdate.IsZero())
	assert.Empty(t, entries[0].LastError)
}

func TestEntryStates(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Found", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/entries/home/states", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Device struct {
				Name string `json:"name"`
			} `json:"device"`
			States []struct {
				UniqueID  string `json:"uniqueID"`
				State     any    `json:"state"`
				Available bool   `json:"available"`
			} `json:"states"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "Indra V2H Charger", resp.Device.Name)
		require.Len(t, resp.States, 7)

		got := map[string]any{}
		for _, st := range resp.States {
			assert.True(t, st.Available)
			got[st.UniqueID] = st.State
		}
		assert.Equal(t, 3.5, got["indra_v2h_home_power"])
		assert.Equal(t, 12.0, got["indra_v2h_home_energy"])
		assert.Equal(t, "Charging", got["indra_v2h_home_status"])
		assert.Equal(t, "SN1", got["indra_v2h_home_serial"])
		assert.Equal(t, "charge", got["indra_v2h_home_mode"])
	})

	t.Run("Not Found", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/entries/other/states", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSnapshots(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Current", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/entries/home/snapshot", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var snap types.Snapshot
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
		assert.Equal(t, "CHARGE", snap.Statistics["mode"])
		assert.True(t, snap.Device.IsList())
	})

	t.Run("Stored", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/entries/home/stored", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var snap types.Snapshot
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
		assert.Equal(t, "Charging", snap.Statistics["state"])
	})

	t.Run("Stored Not Found", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/entries/other/stored", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSelectOption(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/entries/home/select", map[string]string{"option": "discharge"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []types.Mode{types.ModeDischarge}, env.client.sentModes())
	})

	t.Run("Invalid Option", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/entries/home/select", map[string]string{"option": "turbo"})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, env.client.sentModes())
	})

	t.Run("Remote Failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.modeErr = errors.New("rejected")
		rr := env.do(http.MethodPost, "/api/entries/home/select", map[string]string{"option": "charge"})
		assert.Equal(t, http.StatusBadGateway, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Contains(t, resp["error"], "rejected")
	})

	t.Run("Bad JSON", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/entries/home/select", "{")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Unknown Entry", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/entries/other/select", map[string]string{"option": "charge"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/entries/home/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestServices(t *testing.T) {
	t.Run("Set Mode", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/services/set_mode", map[string]string{"entry_id": "home", "mode": "loadmatch"})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []types.Mode{types.ModeLoadMatch}, env.client.sentModes())
	})

	t.Run("Set Mode Failure Still OK", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.modeErr = errors.New("rejected")
		rr := env.do(http.MethodPost, "/api/services/set_mode", map[string]string{"mode": "charge"})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Set Mode Invalid", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/services/set_mode", map[string]string{"mode": "turbo"})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, env.client.sentModes())
	})

	t.Run("Set Schedule", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/services/set_schedule", map[string]string{"start_time": "22:00", "end_time": "06:00"})
		assert.Equal(t, http.StatusOK, rr.Code)
		env.client.mu.Lock()
		assert.Equal(t, 1, env.client.schedules)
		env.client.mu.Unlock()
	})

	t.Run("Bad JSON", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/services/set_mode", "not json")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `indra_v2h_up{entry="home"} 1`)
	assert.Contains(t, rr.Body.String(), `indra_v2h_refresh_total{entry="home",result="ok"} 1`)
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)
	env.srv.listenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.srv.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
