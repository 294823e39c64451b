package shared

import "time"

// ParseDate accepts YYYY-MM-DD or RFC3339. An empty value yields the zero time.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.DateOnly, value); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339, value)
}
