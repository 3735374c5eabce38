package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/crop-advisor/internal/models"
)

// Crop form field names, in the order the form presents them.
const (
	FieldNitrogen    = "nitrogen"
	FieldPhosphorus  = "phosphorus"
	FieldPotassium   = "potassium"
	FieldPH          = "ph"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldRainfall    = "rainfall"
)

// CropFields lists the crop form fields in form order.
var CropFields = []string{
	FieldNitrogen, FieldPhosphorus, FieldPotassium, FieldPH,
	FieldTemperature, FieldHumidity, FieldRainfall,
}

// ErrMissingField is returned when a crop form field was not submitted at all.
var ErrMissingField = errors.New("missing form field")

// ErrInvalidNumber is returned when a crop form value does not parse as a float.
var ErrInvalidNumber = errors.New("could not convert string to float")

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the city exceeds the configured length.
var ErrCityTooLong = errors.New("city name too long")

// CropInputFromForm copies the seven crop fields out of a parsed form. Every
// submitted value is kept so the form can be repopulated; the first field
// absent from the form (in form order) is reported as ErrMissingField.
func CropInputFromForm(form url.Values) (models.CropInput, error) {
	var missing error
	get := func(name string) string {
		vals, ok := form[name]
		if !ok || len(vals) == 0 {
			if missing == nil {
				missing = fmt.Errorf("%w %q", ErrMissingField, name)
			}
			return ""
		}
		return vals[0]
	}
	in := models.CropInput{
		Nitrogen:    get(FieldNitrogen),
		Phosphorus:  get(FieldPhosphorus),
		Potassium:   get(FieldPotassium),
		PH:          get(FieldPH),
		Temperature: get(FieldTemperature),
		Humidity:    get(FieldHumidity),
		Rainfall:    get(FieldRainfall),
	}
	return in, missing
}

// ParseFloat casts a raw form value. Surrounding whitespace is tolerated;
// nothing else is normalized and no range is enforced.
func ParseFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s'", ErrInvalidNumber, raw)
	}
	return v, nil
}

// ValidateCity trims the input and enforces maxLen (in runes, 0 = unlimited).
// Character sets are left to the geocoder, which accepts free text.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	if n == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	return s, nil
}
