package validate

import "strings"

// Required reports whether every value is non-blank.
func Required(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return false
		}
	}
	return true
}
