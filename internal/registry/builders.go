package registry

import (
	"github.com/harrison/tripsmith/internal/models"
)

// Subject context field names understood by the built-in builders.
const (
	FieldDestinationCountry = "destination_country"
	FieldDepartureDate      = "departure_date"
	FieldReturnDate         = "return_date"
	FieldOriginCity         = "origin_city"
	FieldNationality        = "nationality"
	FieldInterests          = "interests"
	FieldBudget             = "budget"
	FieldDietary            = "dietary_restrictions"
)

// builders constructs the input builders for the built-in producers.
// Builders are pure: they read the subject context and the injected
// lookup tables, and return the producer's input map.
type builders struct {
	tables Tables
}

// require reads a structural field, reporting ErrMissingField when absent.
func require(subject models.SubjectContext, field string) (string, error) {
	v, ok := subject[field]
	if !ok || v == "" {
		return "", models.MissingFieldError(field)
	}
	return v, nil
}

func (b builders) visa(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"destination_country": dest,
		"iso_code":            b.tables.CodeFor(dest),
	}
	if nat := subject[FieldNationality]; nat != "" {
		input["nationality"] = nat
	}
	return input, nil
}

func (b builders) country(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	iso := b.tables.CodeFor(dest)
	return map[string]any{
		"destination_country": dest,
		"iso_code":            iso,
		"emergency_number":    b.tables.EmergencyFor(iso),
	}, nil
}

func (b builders) weather(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	dep, err := require(subject, FieldDepartureDate)
	if err != nil {
		return nil, err
	}
	ret, err := require(subject, FieldReturnDate)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"destination_country": dest,
		"departure_date":      dep,
		"return_date":         ret,
	}, nil
}

func (b builders) currency(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"destination_country": dest,
		"iso_code":            b.tables.CodeFor(dest),
	}, nil
}

func (b builders) culture(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	input := map[string]any{"destination_country": dest}
	if interests := subject[FieldInterests]; interests != "" {
		input["interests"] = interests
	}
	return input, nil
}

func (b builders) food(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	input := map[string]any{"destination_country": dest}
	if dietary := subject[FieldDietary]; dietary != "" {
		input["dietary_restrictions"] = dietary
	}
	return input, nil
}

func (b builders) attractions(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	input := map[string]any{"destination_country": dest}
	if interests := subject[FieldInterests]; interests != "" {
		input["interests"] = interests
	}
	return input, nil
}

// itinerary builds from whatever partial context is available. It never
// waits on, or inspects, other producers' results.
func (b builders) itinerary(subject models.SubjectContext) (map[string]any, error) {
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	dep, err := require(subject, FieldDepartureDate)
	if err != nil {
		return nil, err
	}
	ret, err := require(subject, FieldReturnDate)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"destination_country": dest,
		"departure_date":      dep,
		"return_date":         ret,
	}
	if interests := subject[FieldInterests]; interests != "" {
		input["interests"] = interests
	}
	if budget := subject[FieldBudget]; budget != "" {
		input["budget"] = budget
	}
	return input, nil
}

// flight needs an origin city. The field is not structural: a subject
// without one simply skips flight search, it does not fail the run.
func (b builders) flight(subject models.SubjectContext) (map[string]any, error) {
	origin, err := require(subject, FieldOriginCity)
	if err != nil {
		return nil, err
	}
	dest, err := require(subject, FieldDestinationCountry)
	if err != nil {
		return nil, err
	}
	dep, err := require(subject, FieldDepartureDate)
	if err != nil {
		return nil, err
	}
	ret, err := require(subject, FieldReturnDate)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"origin_city":         origin,
		"destination_country": dest,
		"departure_date":      dep,
		"return_date":         ret,
	}, nil
}
