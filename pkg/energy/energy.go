// Package energy integrates power samples into tariff-split energy figures.
package energy

import (
	"github.com/vjranagit/wattcache/pkg/types"
)

// DefaultTimestep is the sampling interval assumed for an isolated sample
const DefaultTimestep = 8

const wattSecondsPerKWh = 1000 * 3600

// Integrate converts an ordered, non-empty run of samples into kWh. A lone
// sample is held constant for timestep seconds; longer runs are integrated
// with the trapezoidal rule over two zero-filled tariff channels sharing the
// same time axis.
func Integrate(samples []types.Sample, timestep int64) types.EnergyAggregate {
	if timestep <= 0 {
		timestep = DefaultTimestep
	}

	var out types.EnergyAggregate
	switch len(samples) {
	case 0:
		return out
	case 1:
		kwh := samples[0].Value / 1000 * float64(timestep) / 3600
		if samples[0].Tariff == types.TariffNight {
			out.NightRate = kwh
		} else {
			out.DayRate = kwh
		}
	default:
		var day, night float64
		for i := 1; i < len(samples); i++ {
			prev, cur := samples[i-1], samples[i]
			dt := float64(cur.Timestamp - prev.Timestamp)
			day += dt * (channel(prev, types.TariffDay) + channel(cur, types.TariffDay)) / 2
			night += dt * (channel(prev, types.TariffNight) + channel(cur, types.TariffNight)) / 2
		}
		out.DayRate = day / wattSecondsPerKWh
		out.NightRate = night / wattSecondsPerKWh
	}

	out.Value = out.DayRate + out.NightRate
	return out
}

// channel is the zero-filled power of s on tariff t
func channel(s types.Sample, t types.Tariff) float64 {
	if s.Tariff == t {
		return s.Value
	}
	return 0
}

// MeanPower recovers an average power in watts from an energy figure spread
// over the given number of seconds
func MeanPower(e types.EnergyAggregate, seconds float64) types.EnergyAggregate {
	if seconds <= 0 {
		return types.EnergyAggregate{}
	}
	return e.Scale(wattSecondsPerKWh / seconds)
}
