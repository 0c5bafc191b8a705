// Package event parses raw lifecycle payloads into typed domain events.
// Parsing has no side effects: a payload either becomes a well-formed
// TripEvent or fails with a ValidationError naming the offending field.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/fareflow/internal/trip/domain"
)

// ValidationError describes a malformed or incomplete payload. These are
// permanent: the payload is dropped (optionally dead-lettered), never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %q %s", e.Field, e.Reason)
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	ve, ok := err.(*ValidationError)
	return ve, ok
}

type rawPayload struct {
	TripID            string      `json:"trip_id"`
	DataType          string      `json:"data_type"`
	PickupDatetime    string      `json:"pickup_datetime"`
	PickupLocationID  json.Number `json:"pickup_location_id"`
	DropoffLocationID json.Number `json:"dropoff_location_id"`
	VendorID          json.Number `json:"vendor_id"`
	EstimatedDropoff  string      `json:"estimated_dropoff_datetime"`
	EstimatedFare     *float64    `json:"estimated_fare_amount"`
	DropoffDatetime   string      `json:"dropoff_datetime"`
	ActualFareAmount  *float64    `json:"actual_fare_amount"`
	TripDistance      *float64    `json:"trip_distance"`
}

// Timestamps arrive either as RFC3339 or as the bare "date time" form the
// upstream feed uses.
var timestampLayouts = []string{time.RFC3339, "2006-01-02 15:04:05"}

// Parse validates a raw payload and produces a typed TripEvent.
func Parse(payload []byte) (domain.TripEvent, error) {
	var raw rawPayload
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.TripEvent{}, &ValidationError{Field: "payload", Reason: "is not valid JSON"}
	}

	if strings.TrimSpace(raw.TripID) == "" {
		return domain.TripEvent{}, &ValidationError{Field: "trip_id", Reason: "is required"}
	}

	switch raw.DataType {
	case string(domain.KindStart):
		return parseStart(raw)
	case string(domain.KindEnd):
		return parseEnd(raw)
	case "":
		return domain.TripEvent{}, &ValidationError{Field: "data_type", Reason: "is required"}
	default:
		return domain.TripEvent{}, &ValidationError{Field: "data_type", Reason: fmt.Sprintf("has unknown value %q", raw.DataType)}
	}
}

func parseStart(raw rawPayload) (domain.TripEvent, error) {
	pickup, err := parseTimestamp("pickup_datetime", raw.PickupDatetime)
	if err != nil {
		return domain.TripEvent{}, err
	}
	pickupLoc, err := identifier("pickup_location_id", raw.PickupLocationID)
	if err != nil {
		return domain.TripEvent{}, err
	}
	dropoffLoc, err := identifier("dropoff_location_id", raw.DropoffLocationID)
	if err != nil {
		return domain.TripEvent{}, err
	}
	vendor, err := identifier("vendor_id", raw.VendorID)
	if err != nil {
		return domain.TripEvent{}, err
	}

	ev := domain.TripEvent{
		TripID:            raw.TripID,
		Kind:              domain.KindStart,
		Timestamp:         pickup,
		PickupLocationID:  pickupLoc,
		DropoffLocationID: dropoffLoc,
		VendorID:          vendor,
	}

	// Estimates are advisory only; validated when present, never aggregated.
	if raw.EstimatedDropoff != "" {
		est, err := parseTimestamp("estimated_dropoff_datetime", raw.EstimatedDropoff)
		if err != nil {
			return domain.TripEvent{}, err
		}
		ev.EstimatedDropoff = &est
	}
	if raw.EstimatedFare != nil {
		if *raw.EstimatedFare < 0 {
			return domain.TripEvent{}, &ValidationError{Field: "estimated_fare_amount", Reason: "must not be negative"}
		}
		ev.EstimatedFare = raw.EstimatedFare
	}
	return ev, nil
}

func parseEnd(raw rawPayload) (domain.TripEvent, error) {
	dropoff, err := parseTimestamp("dropoff_datetime", raw.DropoffDatetime)
	if err != nil {
		return domain.TripEvent{}, err
	}
	if raw.ActualFareAmount == nil {
		return domain.TripEvent{}, &ValidationError{Field: "actual_fare_amount", Reason: "is required"}
	}
	if *raw.ActualFareAmount < 0 {
		return domain.TripEvent{}, &ValidationError{Field: "actual_fare_amount", Reason: "must not be negative"}
	}
	if raw.TripDistance != nil && *raw.TripDistance < 0 {
		return domain.TripEvent{}, &ValidationError{Field: "trip_distance", Reason: "must not be negative"}
	}

	return domain.TripEvent{
		TripID:       raw.TripID,
		Kind:         domain.KindEnd,
		Timestamp:    dropoff,
		FareAmount:   raw.ActualFareAmount,
		TripDistance: raw.TripDistance,
	}, nil
}

func parseTimestamp(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, &ValidationError{Field: field, Reason: "is required"}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: field, Reason: fmt.Sprintf("has unparseable timestamp %q", value)}
}

func identifier(field string, value json.Number) (string, error) {
	s := strings.TrimSpace(value.String())
	if s == "" {
		return "", &ValidationError{Field: field, Reason: "is required"}
	}
	return s, nil
}
