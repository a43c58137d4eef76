package suncalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSunCalc(t *testing.T) {
	t.Parallel()

	sc := newTestSunCalc()
	require.NotNil(t, sc)
	assert.InDelta(t, testLatitude, sc.observer.Latitude, 1e-9)
	assert.InDelta(t, testLongitude, sc.observer.Longitude, 1e-9)

	assert.Equal(t, time.Local, NewSunCalc(0, 0, nil).loc)
}

func TestGetSunEventTimesOrderedAndCached(t *testing.T) {
	t.Parallel()

	sc := newTestSunCalc()
	times1, err := sc.GetSunEventTimes(midsummerDate())
	require.NoError(t, err)

	assert.True(t, times1.CivilDawn.Before(times1.Sunrise))
	assert.True(t, times1.Sunrise.Before(times1.Sunset))
	assert.True(t, times1.Sunset.Before(times1.CivilDusk))
	assert.Equal(t, "EEST", times1.Sunrise.Location().String())

	// a different time on the same local day hits the cache
	times2, err := sc.GetSunEventTimes(midsummerDate().Add(6 * time.Hour))
	require.NoError(t, err)
	assert.True(t, times1.Sunrise.Equal(times2.Sunrise))
	assert.Len(t, sc.cache, 1)
}

func TestSunriseAndSunset(t *testing.T) {
	t.Parallel()

	sc := newTestSunCalc()
	sunrise, err := sc.GetSunriseTime(midsummerDate())
	require.NoError(t, err)
	sunset, err := sc.GetSunsetTime(midsummerDate())
	require.NoError(t, err)

	// Helsinki midsummer: sunrise before 05:00, sunset after 22:00 local
	assert.Less(t, sunrise.Hour(), 5)
	assert.GreaterOrEqual(t, sunset.Hour(), 22)
}

func TestPhase(t *testing.T) {
	t.Parallel()

	sc := newTestSunCalc()
	times, err := sc.GetSunEventTimes(midsummerDate())
	require.NoError(t, err)

	midpoint := func(a, b time.Time) time.Time { return a.Add(b.Sub(a) / 2) }

	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"noon", midsummerDate(), PhaseDay},
		{"dawn", midpoint(times.CivilDawn, times.Sunrise), PhaseDawn},
		{"dusk", midpoint(times.Sunset, times.CivilDusk), PhaseDusk},
		{"winter night", time.Date(2024, 12, 21, 2, 0, 0, 0, helsinki()), PhaseNight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := sc.Phase(tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhaseAt(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	times := SunEventTimes{
		CivilDawn: base.Add(5 * time.Hour),
		Sunrise:   base.Add(6 * time.Hour),
		Sunset:    base.Add(18 * time.Hour),
		CivilDusk: base.Add(19 * time.Hour),
	}

	assert.Equal(t, PhaseNight, times.PhaseAt(base.Add(time.Hour)))
	assert.Equal(t, PhaseDawn, times.PhaseAt(base.Add(5*time.Hour)))
	assert.Equal(t, PhaseDay, times.PhaseAt(base.Add(6*time.Hour)))
	assert.Equal(t, PhaseDusk, times.PhaseAt(base.Add(18*time.Hour+30*time.Minute)))
	assert.Equal(t, PhaseNight, times.PhaseAt(base.Add(23*time.Hour)))
}

func TestPolarDayReportsUnknown(t *testing.T) {
	t.Parallel()

	// Svalbard has no sunset at midsummer
	sc := NewSunCalc(78.22, 15.65, time.UTC)
	phase, err := sc.Phase(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, PhaseUnknown, phase)
}
