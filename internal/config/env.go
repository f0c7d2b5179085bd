package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads environment variables that are not represented by
// dedicated CLI flags.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if raw := strings.TrimSpace(os.Getenv("RISUGIT_ASSET_MAX_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid RISUGIT_ASSET_MAX_SIZE: %w", parseErr)
		}
		c.AssetMaxSize = size
	}
	if err = applyDurationEnv("RISUGIT_ASSET_RETENTION", &c.AssetRetention); err != nil {
		return err
	}
	if err = applyDurationEnv("RISUGIT_ASSET_CLEANUP_INTERVAL", &c.AssetCleanupInterval); err != nil {
		return err
	}
	if err = applyDurationEnv("RISUGIT_ASSET_ACCESS_COOLDOWN", &c.AccessTouchCooldown); err != nil {
		return err
	}
	if err = applyDurationEnv("RISUGIT_DEBOUNCE_QUIET", &c.DebounceQuiet); err != nil {
		return err
	}
	if err = applyIntEnv("RISUGIT_KDF_ITERATIONS", &c.KDFIterations); err != nil {
		return err
	}
	applyStringEnv("RISUGIT_S3_PREFIX", &c.S3Prefix)
	applyStringEnv("RISUGIT_TEMP_DIR", &c.TempDir)
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// ParseDuration accepts Go durations (30s, 5m) and ISO-8601 periods of the
// form P#DT#H#M#S.
func ParseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "P")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	inTime := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("invalid format %q", raw)
			}
			inTime = true
			rest = rest[1:]
			continue
		}
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch unit := rest[i]; {
		case unit == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case unit == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case unit == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case unit == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

func parseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "GB"), strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "GB"), "G")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
