package mission

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInterval(t *testing.T) {
	s := Schedule{IntervalMinutes: 15}
	require.NoError(t, s.Normalize())
	assert.Equal(t, ScheduleInterval, s.Type)
}

func TestNormalizeCron(t *testing.T) {
	s := Schedule{Cron: "0 3 * * *", Timezone: "America/New_York"}
	require.NoError(t, s.Normalize())
	assert.Equal(t, ScheduleCron, s.Type)
}

func TestNormalizeCronDescriptor(t *testing.T) {
	s := Schedule{Cron: "@hourly"}
	require.NoError(t, s.Normalize())
	assert.Equal(t, ScheduleCron, s.Type)
}

func TestNormalizeRejectsBothVariants(t *testing.T) {
	s := Schedule{IntervalMinutes: 5, Cron: "* * * * *"}
	err := s.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeRejectsNeitherVariant(t *testing.T) {
	var s Schedule
	err := s.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeRejectsNegativeInterval(t *testing.T) {
	s := Schedule{IntervalMinutes: -10}
	err := s.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeRejectsBadCron(t *testing.T) {
	s := Schedule{Cron: "61 * * * *"}
	err := s.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeRejectsBadTimezone(t *testing.T) {
	s := Schedule{Cron: "* * * * *", Timezone: "Mars/Olympus"}
	err := s.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeClearsTimezoneForInterval(t *testing.T) {
	s := Schedule{IntervalMinutes: 5, Timezone: "UTC"}
	require.NoError(t, s.Normalize())
	assert.Empty(t, s.Timezone)
}

func TestNextInterval(t *testing.T) {
	after := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := Schedule{IntervalMinutes: 45}
	next, err := s.Next(after)
	require.NoError(t, err)
	assert.True(t, next.Equal(after.Add(45*time.Minute)))
}

func TestNextCron(t *testing.T) {
	after := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
	s := Schedule{Cron: "0 3 * * *"}
	next, err := s.Next(after)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)))
}

func TestNextCronHonorsTimezone(t *testing.T) {
	after := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := Schedule{Cron: "0 3 * * *", Timezone: "America/New_York"}
	next, err := s.Next(after)
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 12:00 UTC is 08:00 in New York, so the next 03:00 local is tomorrow.
	assert.True(t, next.Equal(time.Date(2026, 8, 30, 3, 0, 0, 0, loc)))
}

func TestNextInvalidSchedule(t *testing.T) {
	var s Schedule
	_, err := s.Next(time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeTags([]string{" a ", "b", "a", ""}))
	assert.Empty(t, NormalizeTags(nil))
}
