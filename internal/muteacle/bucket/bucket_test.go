package bucket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mounaiban/muteacle/internal/muteacle/bucket"
)

var refDay = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func TestAdmissible(t *testing.T) {
	assert.True(t, bucket.Admissible(1))
	assert.True(t, bucket.Admissible(3600))
	assert.True(t, bucket.Admissible(86400))
	assert.False(t, bucket.Admissible(0))
	assert.False(t, bucket.Admissible(-5))
	assert.False(t, bucket.Admissible(7)) // does not divide 86400
}

func TestAdmissibleResolutionsCount(t *testing.T) {
	// 86400 = 2^7 * 3^3 * 5^2 has exactly 96 divisors.
	require.Len(t, bucket.AdmissibleResolutions(), 96)
}

// Property 1: interval_number(interval_start(Y,M,D,R,n), R) = n for every
// admissible R and every n in range.
func TestIntervalNumberRoundTrip(t *testing.T) {
	for _, r := range bucket.AdmissibleResolutions() {
		perDay := bucket.IntervalsPerDay(r)
		for n := 0; n < perDay; n++ {
			start := bucket.IntervalStart(refDay, r, n)
			got := bucket.IntervalNumber(start, r)
			require.Equalf(t, n, got, "resolution %d interval %d", r, n)
		}
	}
}

func TestIntervalStartSpacing(t *testing.T) {
	r := bucket.Resolution(1800)
	for n := 0; n < bucket.IntervalsPerDay(r)-1; n++ {
		a := bucket.IntervalStart(refDay, r, n)
		b := bucket.IntervalStart(refDay, r, n+1)
		assert.Equal(t, time.Duration(r)*time.Second, b.Sub(a))
	}
}

func TestIntervalEndIsOneMicrosecondBeforeNextStart(t *testing.T) {
	r := bucket.Resolution(300)
	end := bucket.IntervalEnd(refDay, r, 10)
	start := bucket.IntervalStart(refDay, r, 11)
	assert.Equal(t, -time.Microsecond, end.Sub(start))
}

func TestIntervalMidOddResolution(t *testing.T) {
	r := bucket.Resolution(3) // odd: midpoint lands on a half-second
	start := bucket.IntervalStart(refDay, r, 0)
	mid := bucket.IntervalMid(refDay, r, 0)
	assert.InDelta(t, 1.5, mid.Sub(start).Seconds(), 0.001)
}

func TestSecondsLeft(t *testing.T) {
	r := bucket.Resolution(60)
	dt := refDay.Add(45 * time.Second)
	assert.InDelta(t, 15.0, bucket.SecondsLeft(dt, r), 0.0001)
}

// Property 2: NextCommonStart is a boundary under both resolutions and
// strictly greater than dt.
func TestNextCommonStartProperty(t *testing.T) {
	cases := []struct{ a, b bucket.Resolution }{
		{1, 2}, {60, 3600}, {300, 900}, {3600, 86400}, {5, 7200},
	}
	dt := refDay.Add(13*time.Hour + 47*time.Minute + 23*time.Second)
	for _, c := range cases {
		got := bucket.NextCommonStart(dt, c.a, c.b)
		assert.Truef(t, got.After(dt), "%v not after %v", got, dt)

		na := bucket.IntervalNumber(got, c.a)
		assert.True(t, bucket.IntervalStart(got, c.a, na).Equal(got))

		nb := bucket.IntervalNumber(got, c.b)
		assert.True(t, bucket.IntervalStart(got, c.b, nb).Equal(got))
	}
}

func TestNextCommonStartFallsBackToMidnight(t *testing.T) {
	// Queried one second before midnight, no boundary of either resolution
	// remains in the day, so the next common boundary is the next midnight.
	dt := refDay.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	got := bucket.NextCommonStart(dt, 7200, 14400)
	tomorrow := refDay.Add(24 * time.Hour)
	assert.True(t, got.Equal(tomorrow))
}

func TestCurrentIntervalStart(t *testing.T) {
	r := bucket.Resolution(600)
	dt := refDay.Add(2*time.Hour + 5*time.Minute)
	start := bucket.CurrentIntervalStart(dt, r)
	assert.Equal(t, refDay.Add(2*time.Hour), start)
}
