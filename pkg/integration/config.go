package integration

import (
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/indra"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/raterudder/indrav2h/pkg/v2h"
	"gopkg.in/yaml.v3"
)

// Configured returns a registry whose entries and polling come from flags.
// Call SetupConfigured after lflag.Configure to load the entries.
func Configured(opts ...Option) *Registry {
	email := lflag.String("indra-email", "", "Email of the Indra smart portal account")
	password := lflag.String("indra-password", "", "Password of the Indra smart portal account")
	entriesFile := lflag.String("entries-file", "", "YAML file listing accounts (id, email, password); replaces indra-email/indra-password")
	baseURL := lflag.String("indra-base-url", indra.DefaultBaseURL, "Base URL of the Indra smart portal API")
	interval := lflag.Duration("update-interval", coordinator.DefaultInterval, "How often each account is polled")
	cooldown := lflag.Duration("refresh-cooldown", coordinator.DefaultRequestCooldown, "Minimum time between on-demand refreshes")

	r := NewRegistry(opts...)

	lflag.Do(func() {
		if *interval <= 0 {
			panic("update-interval must be positive")
		}
		r.coordOpts = append(r.coordOpts, coordinator.WithInterval(*interval), coordinator.WithRequestCooldown(*cooldown))
		r.newClient = func(cfg types.EntryConfig) v2h.Client {
			return v2h.New(cfg.Email, cfg.Password, indra.WithBaseURL(*baseURL))
		}

		if *entriesFile != "" {
			configs, err := loadEntries(*entriesFile)
			if err != nil {
				panic(fmt.Sprintf("loading entries file: %v", err))
			}
			r.configs = configs
			return
		}
		if *email == "" || *password == "" {
			panic("indra-email and indra-password are required unless entries-file is set")
		}
		r.configs = []types.EntryConfig{{Email: *email, Password: *password}}
	})

	return r
}

// loadEntries reads a YAML list of entry configs.
func loadEntries(path string) ([]types.EntryConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var configs []types.EntryConfig
	if err := dec.Decode(&configs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no entries configured")
	}

	seen := make(map[string]bool, len(configs))
	for i, c := range configs {
		if c.Email == "" || c.Password == "" {
			return nil, fmt.Errorf("entry %d: email and password are required", i)
		}
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("entry %d: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
	}
	return configs, nil
}
