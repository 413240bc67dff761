// Package suncalc computes dawn and dusk times for the station's
// location. The audio player uses the civil twilight window to decide
// when night-time volume attenuation applies.
package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"

	"github.com/carebell/carebell-go/internal/conf"
)

// SunEventTimes holds the calculated sun event times in local time.
type SunEventTimes struct {
	CivilDawn time.Time
	Sunrise   time.Time
	Sunset    time.Time
	CivilDusk time.Time
}

// SunCalc calculates and caches sun event times for a fixed observer
// location. Safe for concurrent use.
type SunCalc struct {
	mu       sync.RWMutex
	cache    map[string]SunEventTimes
	observer astral.Observer
}

// NewSunCalc creates a SunCalc for the given coordinates.
func NewSunCalc(latitude, longitude float64) *SunCalc {
	return &SunCalc{
		cache:    make(map[string]SunEventTimes),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
	}
}

// GetSunEventTimes returns the sun event times for the calendar day of
// date. Results are cached per day, so any time within the same day
// returns the same entry.
func (sc *SunCalc) GetSunEventTimes(date time.Time) (SunEventTimes, error) {
	dateKey := date.Format("2006-01-02")

	sc.mu.RLock()
	times, ok := sc.cache[dateKey]
	sc.mu.RUnlock()
	if ok {
		return times, nil
	}

	times, err := sc.calculateSunEventTimes(date)
	if err != nil {
		return SunEventTimes{}, err
	}

	sc.mu.Lock()
	sc.cache[dateKey] = times
	sc.mu.Unlock()

	return times, nil
}

// calculateSunEventTimes computes the four sun events for a date and
// converts them from UTC to local time.
func (sc *SunCalc) calculateSunEventTimes(date time.Time) (SunEventTimes, error) {
	civilDawn, err := astral.Dawn(sc.observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dawn: %w", err)
	}

	sunrise, err := astral.Sunrise(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunrise: %w", err)
	}

	sunset, err := astral.Sunset(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunset: %w", err)
	}

	civilDusk, err := astral.Dusk(sc.observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dusk: %w", err)
	}

	var times SunEventTimes
	if times.CivilDawn, err = conf.ConvertUTCToLocal(civilDawn); err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to convert civil dawn to local time: %w", err)
	}
	if times.Sunrise, err = conf.ConvertUTCToLocal(sunrise); err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to convert sunrise to local time: %w", err)
	}
	if times.Sunset, err = conf.ConvertUTCToLocal(sunset); err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to convert sunset to local time: %w", err)
	}
	if times.CivilDusk, err = conf.ConvertUTCToLocal(civilDusk); err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to convert civil dusk to local time: %w", err)
	}

	return times, nil
}
