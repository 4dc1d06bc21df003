package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the data-freshness state of a place.
type Status string

const (
	StatusAwaitingValidator Status = "AWAITING_VALIDATOR"
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
)

// Coordinates of a place in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Measurement is the air-quality payload a validator reports. Every field
// stays null until a validator fills it.
type Measurement struct {
	AQI  decimal.NullDecimal `json:"aqi"`
	PM25 decimal.NullDecimal `json:"pm25"`
	PM10 decimal.NullDecimal `json:"pm10"`
	CO   decimal.NullDecimal `json:"co"`
	NO   decimal.NullDecimal `json:"no"`
	SO2  decimal.NullDecimal `json:"so2"`
	NH3  decimal.NullDecimal `json:"nh3"`
	NO2  decimal.NullDecimal `json:"no2"`
	O3   decimal.NullDecimal `json:"o3"`
}

func (m Measurement) fields() []decimal.NullDecimal {
	return []decimal.NullDecimal{m.AQI, m.PM25, m.PM10, m.CO, m.NO, m.SO2, m.NH3, m.NO2, m.O3}
}

// Complete reports whether every measurement field is populated.
func (m Measurement) Complete() bool {
	for _, f := range m.fields() {
		if !f.Valid {
			return false
		}
	}
	return true
}

// Level is the human readable air-quality band for an OpenWeather AQI index.
type Level string

const (
	LevelUnknown        Level = ""
	LevelGood           Level = "GOOD"
	LevelModerate       Level = "MODERATE"
	LevelBetterNotGoOut Level = "BETTER_NOT_GO_OUT"
	LevelUnhealthy      Level = "UNHEALTHY"
	LevelVeryUnhealthy  Level = "VERY_UNHEALTHY"
	LevelHazardous      Level = "HAZARDOUS"
)

// Level maps the AQI index (1 best .. 5 worst) onto a band.
func (m Measurement) Level() Level {
	if !m.AQI.Valid {
		return LevelUnknown
	}
	switch aqi := m.AQI.Decimal.IntPart(); {
	case aqi <= 1:
		return LevelGood
	case aqi == 2:
		return LevelModerate
	case aqi == 3:
		return LevelBetterNotGoOut
	case aqi == 4:
		return LevelUnhealthy
	case aqi == 5:
		return LevelVeryUnhealthy
	default:
		return LevelHazardous
	}
}

// PlaceRecord is a named location whose air quality is tracked.
type PlaceRecord struct {
	ID          string       `json:"id"`
	Owner       Identity     `json:"owner"`
	Name        string       `json:"name"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	AirQuality  Measurement  `json:"air_quality"`
	Status      Status       `json:"status"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Transition describes one status change of a place.
type Transition struct {
	PlaceID       string    `json:"place_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	CorrelationID string    `json:"correlation_id"`
	Validator     Identity  `json:"validator"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}
