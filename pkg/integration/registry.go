package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/entity"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/raterudder/indrav2h/pkg/v2h"
)

var (
	// ErrEntryNotFound is returned when no loaded entry matches.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrAmbiguousEntry is returned when a call names no entry and more than
	// one is loaded.
	ErrAmbiguousEntry = errors.New("entry_id is required when more than one entry is loaded")

	errAlreadyLoaded = errors.New("entry already loaded")
)

// SetupError is returned when an entry could not be set up. Nothing of the
// entry stays registered.
type SetupError struct {
	EntryID string
	Err     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("error setting up Indra V2H entry %s: %v", e.EntryID, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// EntryID derives the id of an entry configured without one. It is stable
// across restarts so stored snapshots stay reachable.
func EntryID(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("indra:"+email)).String()
}

// ClientFactory builds the adapter for an entry.
type ClientFactory func(cfg types.EntryConfig) v2h.Client

// Entry is a loaded config entry.
type Entry struct {
	ID          string
	Email       string
	Coordinator *coordinator.Coordinator
	Entities    *entity.Entities

	cancel context.CancelFunc
	done   chan struct{}
}

// Registry holds every loaded entry keyed by entry id.
type Registry struct {
	newClient ClientFactory
	coordOpts []coordinator.Option

	mu      sync.Mutex
	entries map[string]*Entry

	// configs are the entries read from flags by Configured
	configs []types.EntryConfig
}

// Option configures a Registry.
type Option func(*Registry)

// WithClientFactory overrides how adapters are built.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Registry) {
		r.newClient = f
	}
}

// WithCoordinatorOptions applies opts to every entry's coordinator.
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(r *Registry) {
		r.coordOpts = append(r.coordOpts, opts...)
	}
}

// WithSnapshotStore saves every entry's published snapshots to s.
func WithSnapshotStore(s coordinator.SnapshotStore) Option {
	return WithCoordinatorOptions(coordinator.WithSnapshotStore(s))
}

// WithObserver reports every entry's refreshes to o.
func WithObserver(o coordinator.RefreshObserver) Option {
	return WithCoordinatorOptions(coordinator.WithObserver(o))
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		newClient: func(cfg types.EntryConfig) v2h.Client {
			return v2h.New(cfg.Email, cfg.Password)
		},
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup builds the adapter and coordinator for cfg, performs the first
// refresh, creates the entities and starts polling. The entry is only
// registered once all of that succeeded.
func (r *Registry) Setup(ctx context.Context, cfg types.EntryConfig) (*Entry, error) {
	if cfg.ID == "" {
		cfg.ID = EntryID(cfg.Email)
	}
	ctx = log.WithEntry(ctx, cfg.ID)

	entry, err := r.setup(ctx, cfg)
	if err != nil {
		err = &SetupError{EntryID: cfg.ID, Err: err}
		log.Ctx(ctx).ErrorContext(ctx, "error setting up Indra V2H integration", slog.Any("error", err))
		return nil, err
	}
	log.Ctx(ctx).InfoContext(ctx, "entry loaded", slog.String("email", cfg.Email))
	return entry, nil
}

func (r *Registry) setup(ctx context.Context, cfg types.EntryConfig) (*Entry, error) {
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return nil, errors.New("email and password are required")
	}
	if _, ok := r.Entry(cfg.ID); ok {
		return nil, errAlreadyLoaded
	}

	client := r.newClient(cfg)
	coord := coordinator.New(cfg.ID, client, r.coordOpts...)
	if err := coord.FirstRefresh(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &Entry{
		ID:          cfg.ID,
		Email:       cfg.Email,
		Coordinator: coord,
		Entities:    entity.New(cfg.ID, coord),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.entries[cfg.ID]; ok {
		r.mu.Unlock()
		cancel()
		return nil, errAlreadyLoaded
	}
	r.entries[cfg.ID] = entry
	r.mu.Unlock()

	go func() {
		defer close(entry.done)
		coord.Run(runCtx)
	}()
	return entry, nil
}

// SetupConfigured sets up every entry read from flags. Entries that fail are
// logged and skipped; the joined errors are returned.
func (r *Registry) SetupConfigured(ctx context.Context) error {
	var errs []error
	for _, cfg := range r.configs {
		if _, err := r.Setup(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload stops polling for the entry and removes it. It returns false if the
// entry was not loaded.
func (r *Registry) Unload(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	<-entry.done
	return true
}

// UnloadAll unloads every entry.
func (r *Registry) UnloadAll() {
	for _, e := range r.Entries() {
		r.Unload(e.ID)
	}
}

// Entry returns the loaded entry with the given id.
func (r *Registry) Entry(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Entries returns every loaded entry ordered by id.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	slices.SortFunc(entries, func(a, b *Entry) int {
		return strings.Compare(a.ID, b.ID)
	})
	return entries
}

// Coordinators returns the coordinator of every loaded entry.
func (r *Registry) Coordinators() []*coordinator.Coordinator {
	entries := r.Entries()
	coords := make([]*coordinator.Coordinator, len(entries))
	for i, e := range entries {
		coords[i] = e.Coordinator
	}
	return coords
}

// resolve finds the entry a call targets. An empty id selects the only
// loaded entry.
func (r *Registry) resolve(id string) (*Entry, error) {
	if id != "" {
		e, ok := r.Entry(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return e, nil
	}
	entries := r.Entries()
	switch len(entries) {
	case 0:
		return nil, ErrEntryNotFound
	case 1:
		return entries[0], nil
	default:
		return nil, ErrAmbiguousEntry
	}
}
