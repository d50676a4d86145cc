package textutil

import "strings"

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// NormalizeErrorMap is NormalizeStringMap for field error maps: entries whose message is blank
// carry no error and are dropped as well.
func NormalizeErrorMap(values map[string]string) map[string]string {
	normalized := NormalizeStringMap(values)
	for key, value := range normalized {
		if value == "" {
			delete(normalized, key)
		}
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

