package weather

import "time"

// Farm is a wind farm location used to request hourly weather.
type Farm struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// Observation is one hourly reading for one farm. Speeds are m/s,
// temperature °C, humidity %, pressure hPa.
type Observation struct {
	FarmID             string
	Timestamp          time.Time
	WindSpeed100m      float64
	WindGusts10m       float64
	Temperature2m      float64
	RelativeHumidity2m float64
	SurfacePressure    float64
}

// HourKey identifies a farm-hour. Hour is Unix seconds of the hour start
// so the key compares equal regardless of time.Location.
type HourKey struct {
	FarmID string
	Hour   int64
}

func KeyOf(farmID string, t time.Time) HourKey {
	return HourKey{FarmID: farmID, Hour: t.UTC().Truncate(time.Hour).Unix()}
}

func (k HourKey) Time() time.Time {
	return time.Unix(k.Hour, 0).UTC()
}

func (o Observation) Key() HourKey {
	return KeyOf(o.FarmID, o.Timestamp)
}
