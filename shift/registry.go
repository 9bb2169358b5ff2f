/*
registry.go - Shift type definitions and processor eligibility

PURPOSE:
  Holds the three configured shift windows (MORNING, DAY, NIGHT) and
  answers "which shift types may this processor start".

HOW IT WORKS:
  1. NewRegistry starts from DefaultDefinitions
  2. Load replaces them with whatever the store holds, seeding the store
     with the defaults when it is empty
  3. Update validates an admin edit, persists it, then swaps it in

ELIGIBILITY:
  A processor with eligibility rows may start only those types. A processor
  with no rows may start any enabled type.

SEED FILE:
  Definitions can be seeded from YAML:

    shift_types:
      - shift_type: NIGHT
        start_hour: 22
        end_hour: 30
        enabled: true

SEE ALSO:
  - core/time.go: window arithmetic
  - machine.go: start preconditions
*/
package shift

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/shift-engine/core"
)

// DefaultDefinitions are MORNING 06-14, DAY 14-22, NIGHT 22-06.
func DefaultDefinitions() []core.ShiftTypeDefinition {
	return []core.ShiftTypeDefinition{
		{ShiftType: core.ShiftMorning, StartHour: 6, EndHour: 14, Enabled: true},
		{ShiftType: core.ShiftDay, StartHour: 14, EndHour: 22, Enabled: true},
		{ShiftType: core.ShiftNight, StartHour: 22, EndHour: 30, Enabled: true},
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	store core.RegistryStore

	mu   sync.RWMutex
	defs map[core.ShiftType]core.ShiftTypeDefinition
}

func NewRegistry(store core.RegistryStore) *Registry {
	r := &Registry{store: store, defs: make(map[core.ShiftType]core.ShiftTypeDefinition)}
	for _, d := range DefaultDefinitions() {
		r.defs[d.ShiftType] = d
	}
	return r
}

// Load reads definitions from the store. An empty store is seeded with the
// current in-memory definitions.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.ShiftTypeDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("loading shift types: %w", err)
	}
	if len(stored) == 0 {
		return r.Seed(ctx, r.Definitions())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range stored {
		r.defs[d.ShiftType] = d
	}
	return nil
}

// Seed validates and persists every definition.
func (r *Registry) Seed(ctx context.Context, defs []core.ShiftTypeDefinition) error {
	for _, d := range defs {
		if err := r.Update(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Update(ctx context.Context, d core.ShiftTypeDefinition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.store.SaveShiftTypeDefinition(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.ShiftType] = d
	return nil
}

func (r *Registry) Definition(t core.ShiftType) (core.ShiftTypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[t]
	return d, ok
}

// Definitions returns every definition in MORNING, DAY, NIGHT order.
func (r *Registry) Definitions() []core.ShiftTypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]core.ShiftTypeDefinition, 0, len(r.defs))
	for _, t := range core.ShiftTypes {
		if d, ok := r.defs[t]; ok {
			result = append(result, d)
		}
	}
	return result
}

// CurrentShiftType returns the enabled shift type whose window holds now.
func (r *Registry) CurrentShiftType(now time.Time) (core.ShiftType, bool) {
	for _, d := range r.Definitions() {
		if d.Enabled && d.IsCurrent(now) {
			return d.ShiftType, true
		}
	}
	return "", false
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// EligibleTypes returns the enabled shift types the processor may start.
func (r *Registry) EligibleTypes(ctx context.Context, processorID core.ProcessorID) ([]core.ShiftType, error) {
	allowed, err := r.store.ProcessorShiftTypes(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("loading eligibility for %s: %w", processorID, err)
	}

	var result []core.ShiftType
	for _, d := range r.Definitions() {
		if !d.Enabled {
			continue
		}
		if len(allowed) == 0 || slices.Contains(allowed, d.ShiftType) {
			result = append(result, d.ShiftType)
		}
	}
	return result, nil
}

func (r *Registry) IsEligible(ctx context.Context, processorID core.ProcessorID, t core.ShiftType) (bool, error) {
	allowed, err := r.store.ProcessorShiftTypes(ctx, processorID)
	if err != nil {
		return false, fmt.Errorf("loading eligibility for %s: %w", processorID, err)
	}
	return len(allowed) == 0 || slices.Contains(allowed, t), nil
}

func (r *Registry) SetEligibility(ctx context.Context, processorID core.ProcessorID, types []core.ShiftType) error {
	for _, t := range types {
		if !t.Valid() {
			return core.NewValidationError("invalid_shift_type", "unknown shift type %q", t)
		}
	}
	return r.store.SetProcessorShiftTypes(ctx, processorID, types)
}

// Eligibility lists every processor with explicit eligibility rows.
func (r *Registry) Eligibility(ctx context.Context) ([]core.Eligibility, error) {
	return r.store.ProcessorEligibility(ctx)
}

// =============================================================================
// YAML SEED FILE
// =============================================================================

type definitionsFile struct {
	ShiftTypes []core.ShiftTypeDefinition `yaml:"shift_types"`
}

// ParseDefinitions decodes a YAML seed document.
func ParseDefinitions(data []byte) ([]core.ShiftTypeDefinition, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing shift types: %w", err)
	}
	for _, d := range f.ShiftTypes {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return f.ShiftTypes, nil
}

func LoadDefinitionsFile(path string) ([]core.ShiftTypeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseDefinitions(data)
}
