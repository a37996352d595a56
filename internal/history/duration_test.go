package history

import (
	"testing"
	"time"

	"ibbridge/internal/model/enum"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeString(t *testing.T) {
	testCases := []struct {
		tf   enum.TimeFrame
		c    int
		want string
	}{
		{enum.TimeFrameSeconds, 5, "5 secs"},
		{enum.TimeFrameMinutes, 1, "1 min"},
		{enum.TimeFrameMinutes, 15, "15 mins"},
		{enum.TimeFrameMinutes, 60, "1 hour"},
		{enum.TimeFrameMinutes, 240, "4 hours"},
		{enum.TimeFrameDays, 1, "1 day"},
		{enum.TimeFrameDays, 14, "2 W"},
		{enum.TimeFrameWeeks, 1, "1 W"},
		{enum.TimeFrameMonths, 1, "1 M"},
	}
	for _, tc := range testCases {
		got, ok := SizeString(tc.tf, tc.c)
		require.True(t, ok)
		assert.Equal(t, tc.want, got)

		key, err := ParseBarSize(got)
		require.NoError(t, err)
		if tc.tf != enum.TimeFrameDays || tc.c%7 != 0 {
			assert.Equal(t, BarSize{tc.tf, tc.c}, key)
		}
	}

	_, ok := SizeString(enum.TimeFrameTicks, 1)
	assert.False(t, ok)
}

func TestDurationsSortedByLength(t *testing.T) {
	ds := Durations(enum.TimeFrameDays, 1)
	require.NotEmpty(t, ds)
	assert.Equal(t, "1 D", ds[0].String())
	assert.Equal(t, "1 Y", ds[len(ds)-1].String())
	for i := 1; i < len(ds); i++ {
		assert.True(t, ds[i-1].less(ds[i]), "%s before %s", ds[i-1], ds[i])
	}

	ds = Durations(enum.TimeFrameSeconds, 1)
	assert.Equal(t, "60 S", ds[0].String())
	assert.Equal(t, "1800 S", ds[len(ds)-1].String())

	max, ok := MaxDuration(enum.TimeFrameMinutes, 60)
	require.True(t, ok)
	assert.Equal(t, "1 M", max.String())

	_, ok = MaxDuration(enum.TimeFrameMinutes, 7)
	assert.False(t, ok)
}

func TestAddDuration(t *testing.T) {
	base := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(60*time.Second), AddDuration(base, Duration{60, UnitSeconds}))
	assert.Equal(t, base.AddDate(0, 0, 2), AddDuration(base, Duration{2, UnitDays}))
	assert.Equal(t, base.AddDate(0, 0, 14), AddDuration(base, Duration{2, UnitWeeks}))
	assert.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), AddDuration(base, Duration{1, UnitMonths}))
	assert.Equal(t, time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC), AddDuration(base, Duration{1, UnitYears}))
	assert.Equal(t, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), AddDuration(time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), Duration{1, UnitYears}))
}

func TestCovering(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	testCases := []struct {
		desc string
		end  time.Time
		want string
	}{
		{"exact seconds bucket", t0.Add(60 * time.Second), "60 S"},
		{"rounds up seconds", t0.Add(61 * time.Second), "120 S"},
		{"eight hours", t0.Add(8 * time.Hour), "28800 S"},
		{"one day and a bit", t0.Add(25 * time.Hour), "2 D"},
		{"two full days", t0.Add(48 * time.Hour), "2 D"},
		{"ten days", t0.AddDate(0, 0, 10), "2 W"},
		{"three weeks", t0.AddDate(0, 0, 21), "1 M"},
		{"one month and a day", t0.AddDate(0, 1, 1), "2 M"},
		{"eleven months", t0.AddDate(0, 11, 0), "2 M"},
		{"over a year", t0.AddDate(1, 0, 1), "1 Y"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, Covering(t0, tc.end).String())
		})
	}
}

func TestBarSizesCapsMonthsAndYears(t *testing.T) {
	assert.Equal(t, []string{"1 day", "1 W", "1 M"}, BarSizes(Duration{7, UnitMonths}))
	assert.Equal(t, []string{"1 day", "1 W", "1 M"}, BarSizes(Duration{3, UnitYears}))
	assert.Contains(t, BarSizes(Duration{1, UnitMonths}), "30 mins")
	assert.Contains(t, BarSizes(Duration{1, UnitDays}), "1 min")
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "60", "x S", "0 S", "5 Q"} {
		_, err := ParseDuration(s)
		assert.Error(t, err, s)
	}
}
