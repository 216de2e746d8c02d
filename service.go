package cueflow

import (
	"strconv"
	"strings"
	"time"
)

// RateLimit is a (count, window) sliding-window budget: at most Count
// dispatches in any window of length Window (spec §3 "Service Definition").
type RateLimit struct {
	Count  int
	Window time.Duration
}

// ServiceDefinition is a named capacity/rate envelope (spec §3, §6).
// Concurrency and Rate are both optional; nil means unlimited on that axis.
type ServiceDefinition struct {
	Name        string
	Concurrency *int
	Rate        *RateLimit
}

// parseRate parses the "N/unit" grammar from spec §6. The grammar and exact
// error text are ground-truthed against original_source's
// TestErrorMessages (test_invalid_rate_format_error, test_unknown_rate_unit_error).
func parseRate(rate string) (RateLimit, error) {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return RateLimit{}, &InvalidRateError{Rate: rate, Kind: "format"}
	}

	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return RateLimit{}, &InvalidRateError{Rate: rate, Kind: "format"}
	}

	window, err := parseRateUnit(strings.TrimSpace(parts[1]))
	if err != nil {
		return RateLimit{}, &InvalidRateError{Rate: rate, Kind: "unit"}
	}

	return RateLimit{Count: count, Window: window}, nil
}

func parseRateUnit(unit string) (time.Duration, error) {
	switch strings.ToLower(unit) {
	case "sec", "s", "second", "seconds":
		return time.Second, nil
	case "min", "m", "minute", "minutes":
		return time.Minute, nil
	case "hour", "h", "hr", "hours":
		return time.Hour, nil
	default:
		return 0, &InvalidRateError{Rate: unit, Kind: "unit"}
	}
}
