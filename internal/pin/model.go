package pin

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the referenced pin does not exist.
	ErrNotFound = errors.New("pin not found")
	// ErrUnauthorized is returned for a missing or mismatched delete token.
	ErrUnauthorized = errors.New("invalid delete token")
)

const (
	minPrice    = 3000
	maxPrice    = 9999
	minDistance = 0.1
	maxDistance = 99.9
)

// Pin is a geotagged price observation.
type Pin struct {
	ID                int64     `json:"id"`
	Price             int       `json:"price"`
	DistanceKm        float64   `json:"distance_km"`
	TimeSlot          string    `json:"time_slot"`
	Weather           string    `json:"weather"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	CreatedAt         time.Time `json:"created_at"`
	DeleteTokenDigest string    `json:"-"`
}

// Attributes are the caller supplied fields of a new pin. Nil means absent.
type Attributes struct {
	Price      *float64 `json:"price" form:"price"`
	DistanceKm *float64 `json:"distance_km" form:"distance_km"`
	TimeSlot   *string  `json:"time_slot" form:"time_slot"`
	Weather    *string  `json:"weather" form:"weather"`
	Lat        *float64 `json:"lat" form:"lat"`
	Lng        *float64 `json:"lng" form:"lng"`
}

// ValidationError lists every violated field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "invalid pin: " + strings.Join(e.Messages(), "; ")
}

// Messages renders "field message" lines in field order.
func (e *ValidationError) Messages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+" "+e.Fields[k])
	}
	return out
}

// Validate checks the attributes against the pin constraints.
func (a Attributes) Validate() error {
	fields := make(map[string]string)

	switch {
	case a.Price == nil:
		fields["price"] = "is required"
	case *a.Price != math.Trunc(*a.Price) || math.IsInf(*a.Price, 0):
		fields["price"] = "must be an integer"
	case *a.Price < minPrice || *a.Price > maxPrice:
		fields["price"] = fmt.Sprintf("must be between %d and %d", minPrice, maxPrice)
	}

	checkRange(fields, "distance_km", a.DistanceKm, minDistance, maxDistance)
	checkRange(fields, "lat", a.Lat, -90, 90)
	checkRange(fields, "lng", a.Lng, -180, 180)

	if a.TimeSlot == nil || strings.TrimSpace(*a.TimeSlot) == "" {
		fields["time_slot"] = "is required"
	}
	if a.Weather == nil || strings.TrimSpace(*a.Weather) == "" {
		fields["weather"] = "is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkRange(fields map[string]string, name string, v *float64, lo, hi float64) {
	switch {
	case v == nil:
		fields[name] = "is required"
	case math.IsNaN(*v) || *v < lo || *v > hi:
		fields[name] = fmt.Sprintf("must be between %g and %g", lo, hi)
	}
}

// build converts validated attributes into a pin.
func (a Attributes) build(digest string, now time.Time) Pin {
	return Pin{
		Price:             int(*a.Price),
		DistanceKm:        *a.DistanceKm,
		TimeSlot:          strings.TrimSpace(*a.TimeSlot),
		Weather:           strings.TrimSpace(*a.Weather),
		Lat:               *a.Lat,
		Lng:               *a.Lng,
		CreatedAt:         now,
		DeleteTokenDigest: digest,
	}
}
