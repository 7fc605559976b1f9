// Package registry holds the static phase/producer configuration: which
// producers exist, which phase each belongs to, how their inputs are
// built, and the immutable lookup tables the builders use. The registry
// is loaded once at process start and never mutated afterwards.
package registry

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/harrison/tripsmith/internal/models"
	"gopkg.in/yaml.v3"
)

// Default per-producer timeouts. Flight search tolerates a slower
// downstream than the content producers.
const (
	defaultProducerTimeout = 2 * time.Minute
	flightProducerTimeout  = 3 * time.Minute
)

// Registry is the ordered set of phases and their producer specs.
type Registry struct {
	phases []models.Phase
	byName map[string]models.ProducerSpec
}

// New builds a registry from explicit phases and validates it.
func New(phases []models.Phase) (*Registry, error) {
	r := &Registry{
		phases: phases,
		byName: make(map[string]models.ProducerSpec),
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	for _, phase := range phases {
		for _, spec := range phase.Producers {
			r.byName[spec.Name] = spec
		}
	}
	return r, nil
}

// Default returns the built-in trip-intelligence registry: foundation
// facts first, destination content second, the itinerary third, and
// flight search last.
func Default(tables Tables) (*Registry, error) {
	b := builders{tables: tables}

	phases := []models.Phase{
		{
			Index: 0,
			Name:  "Phase 1: Foundation",
			Producers: []models.ProducerSpec{
				{
					Name:       "visa",
					PhaseIndex: 0,
					Requires:   []string{FieldDestinationCountry},
					Optional:   []string{FieldNationality},
					Build:      b.visa,
					Timeout:    defaultProducerTimeout,
				},
				{
					Name:       "country",
					PhaseIndex: 0,
					Requires:   []string{FieldDestinationCountry},
					Build:      b.country,
					Timeout:    defaultProducerTimeout,
				},
				{
					Name:       "weather",
					PhaseIndex: 0,
					Requires:   []string{FieldDestinationCountry, FieldDepartureDate, FieldReturnDate},
					Build:      b.weather,
					Timeout:    defaultProducerTimeout,
				},
				{
					Name:       "currency",
					PhaseIndex: 0,
					Requires:   []string{FieldDestinationCountry},
					Build:      b.currency,
					Timeout:    defaultProducerTimeout,
				},
			},
		},
		{
			Index: 1,
			Name:  "Phase 2: Destination",
			Producers: []models.ProducerSpec{
				{
					Name:       "culture",
					PhaseIndex: 1,
					Requires:   []string{FieldDestinationCountry},
					Optional:   []string{FieldInterests},
					Build:      b.culture,
					Timeout:    defaultProducerTimeout,
				},
				{
					Name:       "food",
					PhaseIndex: 1,
					Requires:   []string{FieldDestinationCountry},
					Optional:   []string{FieldDietary},
					Build:      b.food,
					Timeout:    defaultProducerTimeout,
				},
				{
					Name:       "attractions",
					PhaseIndex: 1,
					Requires:   []string{FieldDestinationCountry},
					Optional:   []string{FieldInterests},
					Build:      b.attractions,
					Timeout:    defaultProducerTimeout,
				},
			},
		},
		{
			Index: 2,
			Name:  "Phase 3: Itinerary",
			Producers: []models.ProducerSpec{
				{
					Name:       "itinerary",
					PhaseIndex: 2,
					Requires:   []string{FieldDestinationCountry, FieldDepartureDate, FieldReturnDate},
					Optional:   []string{FieldInterests, FieldBudget},
					Build:      b.itinerary,
					Timeout:    defaultProducerTimeout,
				},
			},
		},
		{
			Index: 3,
			Name:  "Phase 4: Flights",
			Producers: []models.ProducerSpec{
				{
					Name:       "flight",
					PhaseIndex: 3,
					Requires:   []string{FieldDestinationCountry, FieldDepartureDate, FieldReturnDate},
					Optional:   []string{FieldOriginCity},
					Build:      b.flight,
					Timeout:    flightProducerTimeout,
				},
			},
		},
	}

	return New(phases)
}

// validate checks the registry invariants: contiguous phase indices
// starting at 0, unique producer names, each producer's phase index
// matching its phase, and valid specs throughout.
func (r *Registry) validate() error {
	if len(r.phases) == 0 {
		return fmt.Errorf("registry has no phases")
	}

	seen := make(map[string]bool)
	for i, phase := range r.phases {
		if phase.Index != i {
			return fmt.Errorf("phase indices must be contiguous from 0: phase at position %d has index %d", i, phase.Index)
		}
		for _, spec := range phase.Producers {
			if err := spec.Validate(); err != nil {
				return err
			}
			if spec.PhaseIndex != i {
				return fmt.Errorf("producer %s declares phase %d but sits in phase %d", spec.Name, spec.PhaseIndex, i)
			}
			if seen[spec.Name] {
				return fmt.Errorf("duplicate producer name: %s", spec.Name)
			}
			seen[spec.Name] = true
		}
	}
	return nil
}

// Phases returns the phases in execution order.
func (r *Registry) Phases() []models.Phase {
	return r.phases
}

// Spec returns the spec for a producer name.
func (r *Registry) Spec(name string) (models.ProducerSpec, bool) {
	spec, ok := r.byName[name]
	return spec, ok
}

// ProducerNames returns every producer name in phase-then-declaration
// order.
func (r *Registry) ProducerNames() []string {
	var names []string
	for _, phase := range r.phases {
		for _, spec := range phase.Producers {
			names = append(names, spec.Name)
		}
	}
	return names
}

// TotalProducers returns the number of producers across all phases.
func (r *Registry) TotalProducers() int {
	n := 0
	for _, phase := range r.phases {
		n += len(phase.Producers)
	}
	return n
}

// StructuralFields returns the sorted union of every producer's required
// fields. A subject context missing any of these fails precondition
// validation before a single producer runs.
func (r *Registry) StructuralFields() []string {
	set := make(map[string]bool)
	for _, phase := range r.phases {
		for _, spec := range phase.Producers {
			for _, f := range spec.Requires {
				set[f] = true
			}
		}
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Overlay adjusts the built-in registry from a YAML file. Only timeouts
// and per-producer enablement can be overridden; phase membership and
// builders are fixed in code.
type Overlay struct {
	Producers map[string]ProducerOverlay `yaml:"producers"`
}

// ProducerOverlay is one producer's overridable settings.
type ProducerOverlay struct {
	Timeout string `yaml:"timeout"`
	Enabled *bool  `yaml:"enabled"`
}

// LoadOverlay reads an overlay file and applies it, returning a new
// registry. A missing file returns the registry unchanged.
func (r *Registry) LoadOverlay(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry overlay: %w", err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse registry overlay: %w", err)
	}
	return r.ApplyOverlay(overlay)
}

// ApplyOverlay returns a new registry with the overlay applied. Unknown
// producer names are an error: a typo in the overlay should not silently
// run with defaults.
func (r *Registry) ApplyOverlay(overlay Overlay) (*Registry, error) {
	for name := range overlay.Producers {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("registry overlay references unknown producer %q", name)
		}
	}

	phases := make([]models.Phase, 0, len(r.phases))
	for _, phase := range r.phases {
		out := models.Phase{Index: phase.Index, Name: phase.Name}
		for _, spec := range phase.Producers {
			po, ok := overlay.Producers[spec.Name]
			if ok && po.Enabled != nil && !*po.Enabled {
				continue
			}
			if ok && po.Timeout != "" {
				d, err := time.ParseDuration(po.Timeout)
				if err != nil {
					return nil, fmt.Errorf("invalid timeout for producer %s: %w", spec.Name, err)
				}
				spec.Timeout = d
			}
			out.Producers = append(out.Producers, spec)
		}
		phases = append(phases, out)
	}
	return New(phases)
}
