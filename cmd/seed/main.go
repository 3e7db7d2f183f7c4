package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/storage"
	"github.com/raterudder/indrav2h/pkg/types"
)

// seed writes a plausible stored snapshot for each entry into the local
// firestore emulator so /api/entries/{entryID}/stored has something to serve.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	entries := lflag.String("seed-entries", "home", "comma-delimited entry ids to seed")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock snapshots")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i, id := range splitEntries(*entries) {
		snap := mockSnapshot(rng, i)
		if err := s.SaveSnapshot(ctx, id, snap); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save snapshot", slog.String("entryID", id), slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded snapshot", slog.String("entryID", id), slog.Any("mode", snap.Statistics["mode"]))
	}
}

func splitEntries(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func mockSnapshot(rng *rand.Rand, n int) types.Snapshot {
	modes := []string{"CHARGE", "DISCHARGE", "LOADMATCH", "IDLE"}
	mode := modes[rng.Intn(len(modes))]

	// 7kW charger
	power := 0.0
	switch mode {
	case "CHARGE":
		power = 3000 + rng.Float64()*4000
	case "DISCHARGE", "LOADMATCH":
		power = -(1000 + rng.Float64()*4000)
	}

	return types.Snapshot{
		Device: types.NewDeviceInfo([]any{map[string]any{
			"model":    "V2H Charger",
			"serial":   fmt.Sprintf("V2H%06d", 100000+n),
			"firmware": "1.4.2",
		}}),
		Statistics: types.Statistics{
			"mode":  mode,
			"state": map[string]string{"CHARGE": "Charging", "DISCHARGE": "Discharging", "LOADMATCH": "Discharging", "IDLE": "Idle"}[mode],
			"data": map[string]any{
				"powerToEv":          power,
				"activeEnergyToEv":   float64(rng.Intn(2_000_000)),
				"activeEnergyFromEv": float64(rng.Intn(1_000_000)),
			},
		},
		FetchedAt: time.Now(),
	}
}
