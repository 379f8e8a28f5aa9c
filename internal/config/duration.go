package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// durationField bounds one duration setting. Empty or zero input yields def.
type durationField struct {
	path string
	def  time.Duration
	max  time.Duration // 0: unbounded
}

var (
	pollTimeoutField    = durationField{path: "telegram.poll_timeout", def: 30 * time.Second, max: 10 * time.Minute}
	pollRetryDelayField = durationField{path: "telegram.poll_retry_delay", max: time.Hour}
	jobTimeoutField     = durationField{path: "scheduler.job_timeout"}
	requestTimeoutField = durationField{path: "source.request_timeout", def: 20 * time.Second, max: 5 * time.Minute}
)

func (f durationField) parse(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return f.def, nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.path, err)
	}
	if d == 0 {
		return f.def, nil
	}
	if f.max > 0 && d > f.max {
		return 0, fmt.Errorf("%s: %s exceeds maximum %s", f.path, d, f.max)
	}
	return d, nil
}

// ParseDuration accepts a Go duration string ("25s", "2m") or a whole number
// of seconds ("25"). Negative values are rejected.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		if n > maxSeconds {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

const maxSeconds = math.MaxInt64 / int64(time.Second)
