// Package kvs serializes the aggregated key-value pairs of a completed
// round into a single blob for the round log, and reads them back.
package kvs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by Get for a key the round does not hold.
var ErrNotFound = errors.New("key not found")

// Encode serializes pairs as a JSON object of base64 values. An empty map
// encodes to "{}".
func Encode(pairs map[string][]byte) ([]byte, error) {
	if pairs == nil {
		return nil, fmt.Errorf("pairs map cannot be nil")
	}

	data := make(map[string]string, len(pairs))
	for k, v := range pairs {
		data[k] = base64.StdEncoding.EncodeToString(v)
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize round data: %w", err)
	}
	return blob, nil
}

// Table is a decoded round blob.
type Table struct {
	pairs map[string][]byte
}

// Decode parses a blob produced by Encode.
func Decode(blob []byte) (*Table, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("blob cannot be empty")
	}

	var data map[string]string
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("failed to deserialize round data: %w", err)
	}

	pairs := make(map[string][]byte, len(data))
	for k, v := range data {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode value for key %s: %w", k, err)
		}
		pairs[k] = decoded
	}
	return &Table{pairs: pairs}, nil
}

// Get returns the value stored under key.
func (t *Table) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}
	value, exists := t.pairs[key]
	if !exists {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return value, nil
}

// Keys returns the sorted keys starting with prefix.
func (t *Table) Keys(prefix string) []string {
	var keys []string
	for k := range t.pairs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of pairs.
func (t *Table) Len() int { return len(t.pairs) }
