package mission

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ScheduleType discriminates the two schedule variants.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// cronParser supports standard 5-field cron expressions and descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is the discriminated schedule variant of a mission. Exactly one of
// IntervalMinutes or Cron is set; Normalize enforces that and fills Type.
type Schedule struct {
	Type            ScheduleType `yaml:"type,omitempty" json:"type"`
	IntervalMinutes int          `yaml:"intervalMinutes,omitempty" json:"intervalMinutes,omitempty"`
	Cron            string       `yaml:"cron,omitempty" json:"cron,omitempty"`
	Timezone        string       `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Normalize validates the schedule and derives Type from whichever variant is
// populated. It is safe to call repeatedly.
func (s *Schedule) Normalize() error {
	hasInterval := s.IntervalMinutes != 0
	hasCron := s.Cron != ""

	switch {
	case hasInterval && hasCron:
		return errors.Wrap(ErrInvalidSchedule, "both intervalMinutes and cron are set")
	case !hasInterval && !hasCron:
		return errors.Wrap(ErrInvalidSchedule, "neither intervalMinutes nor cron is set")
	case hasInterval:
		if s.IntervalMinutes < 0 {
			return errors.Wrapf(ErrInvalidSchedule, "intervalMinutes must be positive, got %d", s.IntervalMinutes)
		}
		s.Type = ScheduleInterval
		s.Timezone = ""
	default:
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return errors.Wrapf(ErrInvalidSchedule, "cron %q: %v", s.Cron, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return errors.Wrapf(ErrInvalidSchedule, "timezone %q: %v", s.Timezone, err)
			}
		}
		s.Type = ScheduleCron
	}
	return nil
}

// Next computes the next fire time strictly after the given time.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	if err := (&s).Normalize(); err != nil {
		return time.Time{}, err
	}

	if s.Type == ScheduleInterval {
		return after.Add(time.Duration(s.IntervalMinutes) * time.Minute), nil
	}

	parsed, err := cronParser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidSchedule, "cron %q: %v", s.Cron, err)
	}
	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, errors.Wrapf(ErrInvalidSchedule, "timezone %q: %v", s.Timezone, err)
		}
		after = after.In(loc)
	}
	return parsed.Next(after), nil
}
