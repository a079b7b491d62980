package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/flowbot/core/logger"
)

// ErrNotFound is returned when no scenario with the requested id is registered.
var ErrNotFound = errors.New("scenario not found")

// Meta summarizes a registered scenario for the administration surface.
type Meta struct {
	ID      string `json:"scenario_id"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version,omitempty"`
	Steps   int    `json:"steps"`
	File    string `json:"file,omitempty"`
}

// Registry resolves scenario ids to loaded definitions. Definitions come
// from a directory of *.json files and can be reloaded at runtime.
type Registry struct {
	dir string

	mu        sync.RWMutex
	scenarios map[string]*Scenario
	files     map[string]string
}

// NewRegistry creates a registry backed by the given directory.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:       dir,
		scenarios: make(map[string]*Scenario),
		files:     make(map[string]string),
	}
}

// LoadDir parses every *.json file in the registry directory. Valid
// definitions are registered; invalid ones are rejected and reported in the
// joined error, never half-registered.
func (r *Registry) LoadDir(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read scenarios dir %s: %w", r.dir, err)
	}

	loaded := make(map[string]*Scenario)
	files := make(map[string]string)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		sc, issues := Parse(data)
		if hasErrors(issues) {
			id := ""
			if sc != nil {
				id = sc.ID
			}
			defErr := &DefinitionError{ScenarioID: id, Issues: issues}
			logger.Error(ctx, "scenario", "load.reject",
				slog.String("file", e.Name()),
				slog.String("err", defErr.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), defErr))
			continue
		}
		for _, i := range issues {
			logger.Warn(ctx, "scenario", "load.warning",
				slog.String("file", e.Name()),
				slog.String("scenario_id", sc.ID),
				slog.String("cause", i.String()),
			)
		}
		if prev, ok := loaded[sc.ID]; ok {
			errs = append(errs, fmt.Errorf("%s: scenario id %q already defined in %s", e.Name(), prev.ID, files[sc.ID]))
			continue
		}
		loaded[sc.ID] = sc
		files[sc.ID] = e.Name()
		logger.Info(ctx, "scenario", "load.ok",
			slog.String("file", e.Name()),
			slog.String("scenario_id", sc.ID),
			slog.Int("steps", len(sc.Steps)),
		)
	}

	r.mu.Lock()
	r.scenarios = loaded
	r.files = files
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Register adds or replaces a single parsed scenario.
func (r *Registry) Register(sc *Scenario) error {
	if sc == nil || sc.ID == "" {
		return fmt.Errorf("cannot register a scenario without an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[sc.ID] = sc
	return nil
}

// Resolve returns the scenario with the given id.
func (r *Registry) Resolve(id string) (*Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc, nil
}

// List returns summaries of all registered scenarios, sorted by id.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.scenarios))
	for id, sc := range r.scenarios {
		out = append(out, Meta{
			ID:      id,
			Name:    sc.Name,
			Version: sc.Version,
			Steps:   len(sc.Steps),
			File:    r.files[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
