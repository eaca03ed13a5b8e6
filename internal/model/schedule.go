package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// Validate checks that exactly one of cron or duration is set and parses it.
func (s Schedule) Validate() error {
	switch {
	case s.Cron != "" && s.Duration != "":
		return errors.New("schedule: cron and duration are mutually exclusive")
	case s.Cron != "":
		return ParseCron(s.Cron)
	case s.Duration != "":
		_, err := ParseISODuration(s.Duration)
		return err
	default:
		return errors.New("schedule: both cron and duration are empty")
	}
}

// ParseCron parses a cron expression that has 5 fields
// returns error if it fails
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}

var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration parses a subset of ISO-8601 durations (days, hours,
// minutes, seconds) into time.Duration. Empty and bare "P"/"PT" rejected.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" {
		return 0, ErrISOFormat
	}
	m := isoDurationRx.FindStringSubmatch(dur)
	if m == nil {
		return 0, ErrISOFormat
	}

	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg, 10, 64)
		if err != nil {
			return 0, ErrISOFormat
		}
		add := units[i] * time.Duration(val)
		if add < 0 || total > time.Duration(1<<63-1)-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	if total == 0 {
		return 0, ErrISOFormat
	}
	return total, nil
}
