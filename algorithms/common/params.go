package common

import "fmt"

// Parameters holds algorithm-specific settings decoded from YAML.
type Parameters map[string]interface{}

// Int returns the integer parameter key, or def if it is absent.
func (p Parameters) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer: %w", key, n, ErrInvalidArgument)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s: unexpected type %T: %w", key, v, ErrInvalidArgument)
	}
}

// Float returns the float parameter key, or def if it is absent.
func (p Parameters) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %s: unexpected type %T: %w", key, v, ErrInvalidArgument)
	}
}

// String returns the string parameter key, or def if it is absent.
func (p Parameters) String(key string, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: unexpected type %T: %w", key, v, ErrInvalidArgument)
	}
	return s, nil
}
