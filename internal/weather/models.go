package weather

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Unit is a temperature scale.
type Unit string

const (
	Fahrenheit Unit = "F"
	Celsius    Unit = "C"
)

// Temperature is a reading in a given unit.
type Temperature struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Toggle converts between Fahrenheit and Celsius. Unknown units are returned unchanged.
func (t Temperature) Toggle() Temperature {
	switch t.Unit {
	case Celsius:
		return Temperature{Value: 9.0/5.0*t.Value + 32, Unit: Fahrenheit}
	case Fahrenheit:
		return Temperature{Value: 5.0 / 9.0 * (t.Value - 32), Unit: Celsius}
	default:
		return t
	}
}

// In returns the temperature in the requested unit.
func (t Temperature) In(u Unit) Temperature {
	if t.Unit == u {
		return t
	}
	return t.Toggle()
}

// String renders the value with four significant digits followed by the unit.
func (t Temperature) String() string {
	return precision4(t.Value) + " " + string(t.Unit)
}

// precision4 formats like a four-significant-digit fixed notation: 72 -> "72.00", 22.2222 -> "22.22".
func precision4(v float64) string {
	if v == 0 {
		return "0.000"
	}
	digits := int(math.Floor(math.Log10(math.Abs(v)))) + 1
	decimals := 4 - digits
	if decimals < 0 {
		decimals = 0
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// Observation is the current conditions at the nearest station.
type Observation struct {
	Temperature Temperature `json:"temperature"`
	Description string      `json:"description"`
	Condition   Condition   `json:"condition"`
	Night       bool        `json:"night"`
}

// NewObservation builds an Observation from a Fahrenheit reading and the station's
// free-text weather description. The description is lower-cased for display.
func NewObservation(tempF float64, description string, at time.Time) Observation {
	return Observation{
		Temperature: Temperature{Value: tempF, Unit: Fahrenheit},
		Description: strings.ToLower(strings.TrimSpace(description)),
		Condition:   ClassifyCondition(description),
		Night:       IsNight(at),
	}
}

// ClassifyCondition maps a free-text description ("Light Rain Fog/Mist") to a Condition.
func ClassifyCondition(text string) Condition {
	switch {
	case strings.TrimSpace(text) == "":
		return ConditionUnknown
	case contains(text, "thunder") || contains(text, "storm"):
		return ConditionStorm
	case contains(text, "snow") || contains(text, "sleet") || contains(text, "blizzard") || contains(text, "ice"):
		return ConditionSnow
	case contains(text, "rain") || contains(text, "shower") || contains(text, "drizzle"):
		return ConditionRain
	case contains(text, "fog") || contains(text, "mist") || contains(text, "haze"):
		return ConditionMist
	case contains(text, "cloud") || contains(text, "overcast"):
		return ConditionCloudy
	case contains(text, "sunny") || contains(text, "clear") || contains(text, "fair"):
		return ConditionClear
	default:
		return ConditionUnknown
	}
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// IsNight reports whether t is between 6PM and 6AM.
func IsNight(t time.Time) bool {
	return t.Hour() >= 18 || t.Hour() < 6
}
