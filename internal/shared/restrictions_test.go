package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(weekday time.Weekday, hour, minute int) time.Time {
	// 2026-03-02 is a Monday.
	base := time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestTimeWindowZeroAllowsEverything(t *testing.T) {
	var w TimeWindow
	assert.True(t, w.Allows(at(time.Sunday, 3, 0)))
}

func TestTimeWindowBusinessHours(t *testing.T) {
	w := TimeWindow{StartMinute: 9 * 60, EndMinute: 17 * 60}
	assert.True(t, w.Allows(at(time.Monday, 9, 0)))
	assert.True(t, w.Allows(at(time.Monday, 16, 59)))
	assert.False(t, w.Allows(at(time.Monday, 17, 0)))
	assert.False(t, w.Allows(at(time.Monday, 8, 59)))
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	w := TimeWindow{StartMinute: 22 * 60, EndMinute: 6 * 60}
	assert.True(t, w.Allows(at(time.Monday, 23, 30)))
	assert.True(t, w.Allows(at(time.Monday, 5, 59)))
	assert.False(t, w.Allows(at(time.Monday, 12, 0)))
}

func TestTimeWindowDays(t *testing.T) {
	w := TimeWindow{Days: []time.Weekday{time.Monday, time.Tuesday}}
	assert.True(t, w.Allows(at(time.Monday, 12, 0)))
	assert.False(t, w.Allows(at(time.Saturday, 12, 0)))
}

func TestGeoRestriction(t *testing.T) {
	var unrestricted GeoRestriction
	assert.True(t, unrestricted.Allows("US"))
	assert.True(t, unrestricted.Allows(""))

	restricted := GeoRestriction{"DE", "FR"}
	assert.True(t, restricted.Allows("DE"))
	assert.False(t, restricted.Allows("US"))
	assert.False(t, restricted.Allows(""), "missing origin fails a non-empty list")
}

func TestAccessLevelOrdering(t *testing.T) {
	assert.True(t, LevelSecret.Dominates(LevelStandard))
	assert.True(t, LevelElevated.Dominates(LevelElevated))
	assert.False(t, LevelStandard.Dominates(LevelElevated))
	assert.Equal(t, LevelSecret, ParseAccessLevel("garbage"), "unknown names never widen access")
	assert.Equal(t, LevelElevated, ParseAccessLevel("ELEVATED"))
}
