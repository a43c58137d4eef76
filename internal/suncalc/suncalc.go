// Package suncalc computes sun event times and the sun phase at a location.
package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// Phase is the part of the day a timestamp falls into
type Phase string

const (
	PhaseNight   Phase = "night"
	PhaseDawn    Phase = "dawn" // civil dawn to sunrise
	PhaseDay     Phase = "day"
	PhaseDusk    Phase = "dusk" // sunset to civil dusk
	PhaseUnknown Phase = ""
)

// SunEventTimes holds the calculated sun event times in the observer's location
type SunEventTimes struct {
	CivilDawn time.Time
	Sunrise   time.Time
	Sunset    time.Time
	CivilDusk time.Time
}

// cacheEntry holds the cached sun event times for a given date
type cacheEntry struct {
	times SunEventTimes
	date  time.Time
}

// SunCalc handles caching and calculation of sun event times
type SunCalc struct {
	cache    map[string]cacheEntry // keyed by local date
	lock     sync.RWMutex
	observer astral.Observer
	loc      *time.Location
}

// NewSunCalc creates a new SunCalc instance. A nil loc uses the host timezone.
func NewSunCalc(latitude, longitude float64, loc *time.Location) *SunCalc {
	if loc == nil {
		loc = time.Local
	}
	return &SunCalc{
		cache:    make(map[string]cacheEntry),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
		loc:      loc,
	}
}

// GetSunEventTimes returns the sun event times for the local date of date, using cache if available
func (sc *SunCalc) GetSunEventTimes(date time.Time) (SunEventTimes, error) {
	local := date.In(sc.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, sc.loc)
	dateKey := day.Format("2006-01-02")

	sc.lock.RLock()
	entry, exists := sc.cache[dateKey]
	sc.lock.RUnlock()

	if exists && entry.date.Equal(day) {
		return entry.times, nil
	}

	times, err := sc.calculateSunEventTimes(day)
	if err != nil {
		return SunEventTimes{}, err
	}

	sc.lock.Lock()
	// one entry per day is enough for a long running node
	if len(sc.cache) > 7 {
		clear(sc.cache)
	}
	sc.cache[dateKey] = cacheEntry{times: times, date: day}
	sc.lock.Unlock()

	return times, nil
}

// calculateSunEventTimes calculates the sun event times for a given date
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

	return SunEventTimes{
		CivilDawn: civilDawn.In(sc.loc),
		Sunrise:   sunrise.In(sc.loc),
		Sunset:    sunset.In(sc.loc),
		CivilDusk: civilDusk.In(sc.loc),
	}, nil
}

// Phase returns the sun phase at t. Locations where the sun does not rise or
// set on that date return PhaseUnknown and the calculation error.
func (sc *SunCalc) Phase(t time.Time) (Phase, error) {
	times, err := sc.GetSunEventTimes(t)
	if err != nil {
		return PhaseUnknown, err
	}
	return times.PhaseAt(t), nil
}

// PhaseAt classifies t against the event times
func (s SunEventTimes) PhaseAt(t time.Time) Phase {
	switch {
	case t.Before(s.CivilDawn):
		return PhaseNight
	case t.Before(s.Sunrise):
		return PhaseDawn
	case t.Before(s.Sunset):
		return PhaseDay
	case t.Before(s.CivilDusk):
		return PhaseDusk
	default:
		return PhaseNight
	}
}

// GetSunriseTime returns the sunrise time for a given date
func (sc *SunCalc) GetSunriseTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunrise, nil
}

// GetSunsetTime returns the sunset time for a given date
func (sc *SunCalc) GetSunsetTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunset, nil
}
