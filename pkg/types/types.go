package types

import (
	"encoding/json"
	"fmt"
)

// Tariff is the pricing channel a sample was recorded under
type Tariff int

const (
	TariffDay Tariff = iota
	TariffNight
)

// String returns the wire name of the tariff
func (t Tariff) String() string {
	if t == TariffNight {
		return "night"
	}
	return "day"
}

// ParseTariff parses "day" or "night"
func ParseTariff(s string) (Tariff, error) {
	switch s {
	case "day":
		return TariffDay, nil
	case "night":
		return TariffNight, nil
	}
	return TariffDay, fmt.Errorf("unknown tariff %q", s)
}

// MarshalJSON encodes the tariff as its name
func (t Tariff) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tariff name
func (t *Tariff) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTariff(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Sample is a single power reading from a sensor
type Sample struct {
	ID        int64   `json:"id"`
	SensorID  int64   `json:"sensor_id"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Tariff    Tariff  `json:"tariff"`
}

// Sensor is a registered measuring device
type Sensor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Metric selects the unit of a query result
type Metric string

const (
	MetricWatts      Metric = "watts"
	MetricKWattHours Metric = "kwatthours"
	MetricEuros      Metric = "euros"
)

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricWatts, MetricKWattHours, MetricEuros:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Axis is the position a range is expressed on
type Axis string

const (
	AxisID   Axis = "by_id"
	AxisTime Axis = "by_time"
)

// Query describes one aggregation request
type Query struct {
	SensorID int64
	Metric   Metric
	Axis     Axis
	Start    int64
	End      int64
	// Step is the bucket width on the query axis. Zero means no bucketing
	// unless Bucketed is set.
	Step int64
	// Bucketed marks a query that named a step, which must then be positive.
	Bucketed bool
	// Timestep is the sampling interval in seconds.
	Timestep int64
	// Point selects the single sample at Start; End and Step are ignored.
	Point        bool
	ForceRefresh bool
}

// Grouped reports whether the query is bucketed
func (q Query) Grouped() bool {
	return !q.Point && (q.Bucketed || q.Step != 0)
}

// EnergyAggregate holds a tariff-split figure. Units follow the query metric:
// kWh, mean watts, or currency.
type EnergyAggregate struct {
	Value     float64 `json:"value"`
	DayRate   float64 `json:"day_rate"`
	NightRate float64 `json:"night_rate"`
}

// Channel returns the figure for one tariff channel
func (e EnergyAggregate) Channel(t Tariff) float64 {
	if t == TariffNight {
		return e.NightRate
	}
	return e.DayRate
}

// Scale multiplies every channel by f
func (e EnergyAggregate) Scale(f float64) EnergyAggregate {
	return EnergyAggregate{
		Value:     e.Value * f,
		DayRate:   e.DayRate * f,
		NightRate: e.NightRate * f,
	}
}

// TariffModel is a provider's day/night linear rate model
type TariffModel struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	DaySlope      float64 `json:"day_slope_watt_euros"`
	DayConstant   float64 `json:"day_constant_watt_euros"`
	NightSlope    float64 `json:"night_slope_watt_euros"`
	NightConstant float64 `json:"night_constant_watt_euros"`
	Current       bool    `json:"current"`
	Threshold     int     `json:"threshold"`
}

// Slope returns the per-kWh rate of a tariff channel
func (m TariffModel) Slope(t Tariff) float64 {
	if t == TariffNight {
		return m.NightSlope
	}
	return m.DaySlope
}

// Result is the answer to a Query. Exactly one field is set, matching the
// query shape. A nil *Result means the query target holds no data.
type Result struct {
	Point   *Sample            `json:"point,omitempty"`
	Samples []Sample           `json:"samples,omitempty"`
	Total   *EnergyAggregate   `json:"total,omitempty"`
	Groups  []*EnergyAggregate `json:"groups,omitempty"`

	// Last is the most recent sample that fed the result. It is not
	// serialized.
	Last *Sample `json:"-"`
}
