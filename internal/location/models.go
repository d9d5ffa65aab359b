package location

import (
	"context"
	"fmt"
	"strings"
)

// Coordinates is a resolved visitor position. A new resolution replaces it entirely.
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// RawPlace is a reverse-geocode or postal-search answer before normalization.
// Lat/Lon are strings because that is how Nominatim encodes them.
type RawPlace struct {
	Address     map[string]string `json:"address"`
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Error       string            `json:"error,omitempty"`
}

// NormalizedAddress is the canonical address derived from a RawPlace.
// An empty Town means no usable town could be derived.
type NormalizedAddress struct {
	Town        string  `json:"town,omitempty"`
	HouseNumber string  `json:"houseNumber,omitempty"`
	Road        string  `json:"road,omitempty"`
	County      string  `json:"county,omitempty"`
	State       string  `json:"state,omitempty"`
	PostalCode  string  `json:"postalCode,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// HasTown reports whether normalization produced a town.
func (a NormalizedAddress) HasTown() bool {
	return a.Town != ""
}

// Coordinates returns the position attached to the address.
func (a NormalizedAddress) Coordinates() Coordinates {
	return Coordinates{Latitude: a.Latitude, Longitude: a.Longitude}
}

// HumanAddress renders "<house> <road>, <town>, <state> <postcode>". House number
// and road are only included when known.
func (a NormalizedAddress) HumanAddress() string {
	var b strings.Builder
	if a.HouseNumber != "" {
		b.WriteString(a.HouseNumber)
		b.WriteString(" ")
	}
	if a.Road != "" {
		b.WriteString(a.Road)
		b.WriteString(", ")
	}
	b.WriteString(a.Town)
	b.WriteString(", ")
	b.WriteString(a.State)
	if a.PostalCode != "" {
		b.WriteString(" ")
		b.WriteString(a.PostalCode)
	}
	return b.String()
}

// PostalMatch is the first hit of a postal-code search.
type PostalMatch struct {
	Coordinates Coordinates       `json:"coordinates"`
	Address     NormalizedAddress `json:"address"`
}

// DeviceLocator is the platform geolocation capability: a single-shot
// "current position" call.
type DeviceLocator interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// FixedDevice is a DeviceLocator that reports a position obtained elsewhere,
// e.g. coordinates the browser already sent with the request.
type FixedDevice struct {
	Position Coordinates
}

func (d FixedDevice) CurrentPosition(context.Context) (Coordinates, error) {
	return d.Position, nil
}
