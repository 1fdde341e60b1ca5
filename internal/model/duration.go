package model

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseISODuration parses the day and time part of an ISO 8601 duration,
// e.g. P1D, PT30S, P2DT1H5M0.5S. Years, months and weeks are rejected as
// they have no fixed length.
func ParseISODuration(s string) (time.Duration, error) {
	if s == "P" || strings.HasSuffix(s, "T") {
		return 0, ErrISOFormat
	}
	m := isoDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrISOFormat
	}

	units := [...]time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		whole, frac, _ := strings.Cut(strings.Replace(part, ",", ".", 1), ".")
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, ErrISOFormat
		}
		if n > int64(math.MaxInt64/units[i]) {
			return 0, errors.New("duration overflow")
		}
		add := time.Duration(n) * units[i]
		if frac != "" {
			f, err := strconv.ParseFloat("0."+frac, 64)
			if err != nil {
				return 0, ErrISOFormat
			}
			add += time.Duration(f * float64(units[i]))
		}
		if total > time.Duration(math.MaxInt64)-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}
