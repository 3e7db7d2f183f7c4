package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Each
// entry has one document in the "entries" collection holding its snapshot.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project ID may be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) entryDoc(entryID string) (*firestore.DocumentRef, error) {
	if entryID == "" {
		return nil, fmt.Errorf("entryID cannot be empty")
	}
	return f.client.Collection("entries").Doc(entryID), nil
}

// SaveSnapshot stores the snapshot as a JSON string, since device and stats
// payloads have no fixed schema.
func (f *FirestoreProvider) SaveSnapshot(ctx context.Context, entryID string, snap types.Snapshot) error {
	doc, err := f.entryDoc(entryID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = doc.Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"fetchedAt": snap.FetchedAt,
		"updatedAt": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot or ErrSnapshotNotFound.
func (f *FirestoreProvider) GetSnapshot(ctx context.Context, entryID string) (types.Snapshot, error) {
	doc, err := f.entryDoc(entryID)
	if err != nil {
		return types.Snapshot{}, err
	}
	ds, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Snapshot{}, ErrSnapshotNotFound
		}
		return types.Snapshot{}, fmt.Errorf("failed to fetch snapshot doc: %w", err)
	}

	val, err := ds.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc missing json", slog.String("entryID", entryID))
		return types.Snapshot{}, fmt.Errorf("snapshot document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc json not string", slog.String("entryID", entryID))
		return types.Snapshot{}, fmt.Errorf("snapshot 'json' field is not a string")
	}

	var snap types.Snapshot
	if err := json.Unmarshal([]byte(jsonStr), &snap); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal snapshot json", slog.String("entryID", entryID), slog.Any("err", err))
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot json: %w", err)
	}
	return snap, nil
}
