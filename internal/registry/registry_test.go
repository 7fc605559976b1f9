package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrison/tripsmith/internal/models"
	"github.com/stretchr/testify/assert"
	tfrequire "github.com/stretchr/testify/require"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Default(DefaultTables())
	tfrequire.NoError(t, err)
	return reg
}

func TestDefaultRegistryShape(t *testing.T) {
	reg := defaultRegistry(t)

	phases := reg.Phases()
	tfrequire.Len(t, phases, 4)
	assert.Equal(t, []string{
		"visa", "country", "weather", "currency",
		"culture", "food", "attractions",
		"itinerary",
		"flight",
	}, reg.ProducerNames())
	assert.Equal(t, 9, reg.TotalProducers())

	// Phase indices are contiguous from 0.
	for i, phase := range phases {
		assert.Equal(t, i, phase.Index)
	}
}

func TestStructuralFields(t *testing.T) {
	reg := defaultRegistry(t)

	fields := reg.StructuralFields()
	assert.Equal(t, []string{
		FieldDepartureDate,
		FieldDestinationCountry,
		FieldReturnDate,
	}, fields)

	// origin_city is optional and must never be structural.
	assert.NotContains(t, fields, FieldOriginCity)
}

func TestRegistryValidation(t *testing.T) {
	builder := func(models.SubjectContext) (map[string]any, error) { return nil, nil }

	tests := []struct {
		name    string
		phases  []models.Phase
		wantErr string
	}{
		{
			name:    "empty registry",
			phases:  nil,
			wantErr: "no phases",
		},
		{
			name: "gap in phase indices",
			phases: []models.Phase{
				{Index: 0, Producers: []models.ProducerSpec{{Name: "a", PhaseIndex: 0, Build: builder, Timeout: time.Minute}}},
				{Index: 2, Producers: []models.ProducerSpec{{Name: "b", PhaseIndex: 2, Build: builder, Timeout: time.Minute}}},
			},
			wantErr: "contiguous",
		},
		{
			name: "duplicate producer name",
			phases: []models.Phase{
				{Index: 0, Producers: []models.ProducerSpec{
					{Name: "a", PhaseIndex: 0, Build: builder, Timeout: time.Minute},
					{Name: "a", PhaseIndex: 0, Build: builder, Timeout: time.Minute},
				}},
			},
			wantErr: "duplicate",
		},
		{
			name: "phase index mismatch",
			phases: []models.Phase{
				{Index: 0, Producers: []models.ProducerSpec{{Name: "a", PhaseIndex: 1, Build: builder, Timeout: time.Minute}}},
			},
			wantErr: "declares phase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.phases)
			tfrequire.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildersMissingOptionalField(t *testing.T) {
	reg := defaultRegistry(t)

	subject := models.SubjectContext{
		FieldDestinationCountry: "Japan",
		FieldDepartureDate:      "2025-06-01",
		FieldReturnDate:         "2025-06-10",
	}

	// Flight has no origin city: builder reports a missing field the
	// scheduler will turn into a skip.
	flight, ok := reg.Spec("flight")
	tfrequire.True(t, ok)
	_, err := flight.Build(subject)
	tfrequire.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMissingField))

	// Every other producer builds from the same subject.
	for _, name := range []string{"visa", "country", "weather", "currency", "culture", "food", "attractions", "itinerary"} {
		spec, ok := reg.Spec(name)
		tfrequire.True(t, ok, name)
		input, err := spec.Build(subject)
		tfrequire.NoError(t, err, name)
		assert.Equal(t, "Japan", input["destination_country"], name)
	}
}

func TestBuildersUseInjectedTables(t *testing.T) {
	reg := defaultRegistry(t)

	subject := models.SubjectContext{FieldDestinationCountry: "Japan"}
	spec, ok := reg.Spec("country")
	tfrequire.True(t, ok)

	input, err := spec.Build(subject)
	tfrequire.NoError(t, err)
	assert.Equal(t, "JP", input["iso_code"])
	assert.Equal(t, "110", input["emergency_number"])
}

func TestBuildersDoNotMutateSubject(t *testing.T) {
	reg := defaultRegistry(t)

	subject := models.SubjectContext{
		FieldDestinationCountry: "France",
		FieldDepartureDate:      "2025-09-01",
		FieldReturnDate:         "2025-09-08",
		FieldInterests:          "art, wine",
	}
	before := subject.Clone()

	for _, phase := range reg.Phases() {
		for _, spec := range phase.Producers {
			spec.Build(subject)
		}
	}

	assert.Equal(t, before, subject)
}

func TestApplyOverlay(t *testing.T) {
	reg := defaultRegistry(t)

	disabled := false
	next, err := reg.ApplyOverlay(Overlay{
		Producers: map[string]ProducerOverlay{
			"visa":   {Timeout: "90s"},
			"flight": {Enabled: &disabled},
		},
	})
	tfrequire.NoError(t, err)

	visa, ok := next.Spec("visa")
	tfrequire.True(t, ok)
	assert.Equal(t, 90*time.Second, visa.Timeout)

	_, ok = next.Spec("flight")
	assert.False(t, ok, "disabled producer must disappear from the registry")
	assert.Equal(t, 8, next.TotalProducers())

	// Original registry is untouched.
	_, ok = reg.Spec("flight")
	assert.True(t, ok)
}

func TestApplyOverlayUnknownProducer(t *testing.T) {
	reg := defaultRegistry(t)

	_, err := reg.ApplyOverlay(Overlay{
		Producers: map[string]ProducerOverlay{"visas": {Timeout: "90s"}},
	})
	tfrequire.Error(t, err)
	assert.Contains(t, err.Error(), "unknown producer")
}

func TestLoadOverlay(t *testing.T) {
	reg := defaultRegistry(t)

	t.Run("missing file returns registry unchanged", func(t *testing.T) {
		next, err := reg.LoadOverlay(filepath.Join(t.TempDir(), "nope.yaml"))
		tfrequire.NoError(t, err)
		assert.Equal(t, reg.TotalProducers(), next.TotalProducers())
	})

	t.Run("file overrides timeout", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "registry.yaml")
		content := "producers:\n  weather:\n    timeout: 45s\n"
		tfrequire.NoError(t, os.WriteFile(path, []byte(content), 0644))

		next, err := reg.LoadOverlay(path)
		tfrequire.NoError(t, err)
		weather, ok := next.Spec("weather")
		tfrequire.True(t, ok)
		assert.Equal(t, 45*time.Second, weather.Timeout)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "registry.yaml")
		tfrequire.NoError(t, os.WriteFile(path, []byte("producers: [not a map"), 0644))

		_, err := reg.LoadOverlay(path)
		tfrequire.Error(t, err)
	})
}
