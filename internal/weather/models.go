package weather

import (
	"strings"
	"time"

	"github.com/google/uuid"
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

// Identity is a geocoded place: canonical name plus coordinate.
type Identity struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Place is a visited location. Points are owned by the place and are
// removed with it.
type Place struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	LastUsedAt time.Time         `json:"lastUsedAt"`
	Points     []PointOfInterest `json:"points"`
}

// NewPlace builds an unsaved place for a geocoded identity.
func NewPlace(id Identity, now time.Time) Place {
	return Place{
		ID:         uuid.New().String(),
		Name:       id.Name,
		Latitude:   id.Latitude,
		Longitude:  id.Longitude,
		LastUsedAt: now.UTC(),
	}
}

// Clone returns a copy that shares no slice memory with p.
func (p Place) Clone() Place {
	if p.Points != nil {
		points := make([]PointOfInterest, len(p.Points))
		copy(points, p.Points)
		p.Points = points
	}
	return p
}

// NameKey is the case-insensitive key used for name lookups and uniqueness.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PointOfInterest is a named attraction near a Place.
type PointOfInterest struct {
	ID        string  `json:"id"`
	PlaceID   string  `json:"placeId,omitempty"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Rank      int     `json:"rank"`
}

// Snapshot is the current conditions plus the daily forecast for a coordinate.
// It is replaced wholesale on every fetch and never persisted.
type Snapshot struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timezone       string    `json:"timezone"`
	TimezoneOffset int       `json:"timezoneOffset"`
	FetchedAt      time.Time `json:"fetchedAt"`
	Current        Current   `json:"current"`
	Daily          []Daily   `json:"daily"`
}

// Current holds the present conditions.
type Current struct {
	Time          time.Time       `json:"time"`
	Sunrise       time.Time       `json:"sunrise"`
	Sunset        time.Time       `json:"sunset"`
	Temperature   float64         `json:"temperatureC"`
	FeelsLike     float64         `json:"feelsLikeC"`
	Pressure      int             `json:"pressureHpa"`
	Humidity      int             `json:"humidityPercent"`
	DewPoint      float64         `json:"dewPointC"`
	UVIndex       float64         `json:"uvIndex"`
	CloudCover    int             `json:"cloudCoverPercent"`
	Visibility    int             `json:"visibilityM"`
	WindSpeed     float64         `json:"windSpeed"`
	WindDirection int             `json:"windDirection"`
	WindGust      *float64        `json:"windGust,omitempty"`
	Conditions    []ConditionInfo `json:"conditions"`
}

// Daily is one day of forecast. Entries are ordered by Date ascending.
type Daily struct {
	Date                     time.Time        `json:"date"`
	Sunrise                  time.Time        `json:"sunrise"`
	Sunset                   time.Time        `json:"sunset"`
	Moonrise                 time.Time        `json:"moonrise"`
	Moonset                  time.Time        `json:"moonset"`
	MoonPhase                float64          `json:"moonPhase"`
	Summary                  string           `json:"summary"`
	Temperature              DailyTemperature `json:"temperature"`
	FeelsLike                DailyFeelsLike   `json:"feelsLike"`
	Pressure                 int              `json:"pressureHpa"`
	Humidity                 int              `json:"humidityPercent"`
	DewPoint                 float64          `json:"dewPointC"`
	WindSpeed                float64          `json:"windSpeed"`
	WindDirection            int              `json:"windDirection"`
	WindGust                 *float64         `json:"windGust,omitempty"`
	Conditions               []ConditionInfo  `json:"conditions"`
	CloudCover               int              `json:"cloudCoverPercent"`
	PrecipitationProbability float64          `json:"precipitationProbability"`
	UVIndex                  float64          `json:"uvIndex"`
	RainVolume               *float64         `json:"rainMm,omitempty"`
}

type DailyTemperature struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Day     float64 `json:"day"`
	Night   float64 `json:"night"`
	Evening float64 `json:"evening"`
	Morning float64 `json:"morning"`
}

type DailyFeelsLike struct {
	Day     float64 `json:"day"`
	Night   float64 `json:"night"`
	Evening float64 `json:"evening"`
	Morning float64 `json:"morning"`
}

// ConditionInfo is a provider condition entry together with its normalized kind.
type ConditionInfo struct {
	ID          int       `json:"id"`
	Main        string    `json:"main"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Condition   Condition `json:"condition"`
}
