package auth

import "time"

// IsWithinThresholdPeriod checks if t happened less than pattern ago.
// Pattern is a time.ParseDuration expression such as "24h".
func IsWithinThresholdPeriod(t time.Time, pattern string) (bool, error) {
	duration, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}
	return IsWithin(t, duration), nil
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(t time.Time, pattern string) (bool, error) {
	valid, err := IsWithinThresholdPeriod(t, pattern)
	if err != nil {
		return false, err
	}

	return !valid, nil
}

// IsWithin reports whether t is after now minus d
func IsWithin(t time.Time, d time.Duration) bool {
	return t.After(time.Now().Add(-d))
}
