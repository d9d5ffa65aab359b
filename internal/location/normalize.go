package location

import (
	"strconv"
	"strings"
)

// townFields is the precedence used to pick a town: administrative names win over
// informal neighbourhood names.
var townFields = []string{"city", "town", "suburb", "hamlet", "village", "locality"}

const townSuffix = " Town"

// Normalize converts a raw geocoder answer into a NormalizedAddress. It is a pure
// function. When no structured town field is present the part of display_name
// before the first comma is used; without a comma the town stays empty.
func Normalize(raw RawPlace) NormalizedAddress {
	addr := NormalizedAddress{
		Town:        pickTown(raw),
		HouseNumber: raw.Address["house_number"],
		Road:        raw.Address["road"],
		County:      raw.Address["county"],
		State:       raw.Address["state"],
		PostalCode:  raw.Address["postcode"],
		Latitude:    parseCoord(raw.Lat),
		Longitude:   parseCoord(raw.Lon),
	}

	if i := strings.Index(addr.Town, townSuffix); i != -1 {
		addr.Town = addr.Town[:i]
	}

	return addr
}

func pickTown(raw RawPlace) string {
	for _, field := range townFields {
		if v := strings.TrimSpace(raw.Address[field]); v != "" {
			return v
		}
	}

	if i := strings.Index(raw.DisplayName, ","); i != -1 {
		return strings.TrimSpace(raw.DisplayName[:i])
	}
	return ""
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
