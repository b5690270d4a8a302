package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_Contains(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("MMT", 6*3600+1800)
	at := func(h, m int) time.Time { return time.Date(2026, 10, 17, h, m, 0, 0, loc) }

	day, err := ParseWindow("05:00", "23:30", loc)
	require.NoError(t, err)
	assert.True(t, day.Contains(at(5, 0)))
	assert.True(t, day.Contains(at(12, 0)))
	assert.False(t, day.Contains(at(23, 30)))
	assert.False(t, day.Contains(at(4, 59)))
	// 22:00 UTC is 04:30 local the next day.
	assert.False(t, day.Contains(time.Date(2026, 10, 17, 22, 0, 0, 0, time.UTC)))

	night, err := ParseWindow("22:00", "06:00", loc)
	require.NoError(t, err)
	assert.True(t, night.Contains(at(23, 0)))
	assert.True(t, night.Contains(at(2, 0)))
	assert.False(t, night.Contains(at(12, 0)))

	always, err := ParseWindow("00:00", "00:00", loc)
	require.NoError(t, err)
	assert.True(t, always.Contains(at(3, 3)))
}

func TestParseWindow_Invalid(t *testing.T) {
	t.Parallel()
	_, err := ParseWindow("5am", "23:30", nil)
	assert.Error(t, err)
	_, err = ParseWindow("05:00", "24:61", nil)
	assert.Error(t, err)
}
