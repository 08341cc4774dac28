// Package skyline implements the per-vertex Pareto frontier of (k,l)-core
// memberships and the dominance query over it.
package skyline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/dcore/algorithms/common"
)

// Delimiter separates integers in the attribute encoding.
const Delimiter = "."

// Pair is a (k,l) core index: k qualifying in-neighbours, l qualifying
// out-neighbours.
type Pair struct {
	K int32
	L int32
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.K, p.L)
}

// Skyline is sorted ascending by K and strictly descending by L, so no pair
// dominates another.
type Skyline []Pair

// Dominates reports whether some pair in s is component-wise >= (k,l).
func Dominates(s Skyline, k, l int32) bool {
	n := len(s)
	if n == 0 || s[n-1].K < k {
		return false
	}

	// Leftmost entry with K >= k. It carries the largest L among all
	// entries with K >= k.
	first, length := 0, n
	for length > 0 {
		half := length >> 1
		middle := first + half
		if s[middle].K >= k {
			length = half
		} else {
			first = middle + 1
			length = length - half - 1
		}
	}
	return s[first].L >= l
}

// InMax returns the largest K recorded, or -1 for an empty skyline.
func (s Skyline) InMax() int32 {
	if len(s) == 0 {
		return -1
	}
	return s[len(s)-1].K
}

// OutMax returns the largest L recorded, or -1 for an empty skyline.
func (s Skyline) OutMax() int32 {
	if len(s) == 0 {
		return -1
	}
	return s[0].L
}

// Equal reports whether s and o hold the same pairs in the same order.
func (s Skyline) Equal(o Skyline) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of s that does not share storage.
func (s Skyline) Clone() Skyline {
	if s == nil {
		return nil
	}
	out := make(Skyline, len(s))
	copy(out, s)
	return out
}

// Validate checks that s is non-negative and a strict Pareto frontier.
func (s Skyline) Validate() error {
	for i, p := range s {
		if p.K < 0 || p.L < 0 {
			return fmt.Errorf("pair %d %v is negative: %w", i, p, common.ErrInvalidArgument)
		}
		if i > 0 {
			prev := s[i-1]
			if p.K <= prev.K || p.L >= prev.L {
				return fmt.Errorf("pair %d %v does not follow %v: %w", i, p, prev, common.ErrInvalidArgument)
			}
		}
	}
	return nil
}

// Flatten returns k0, l0, k1, l1, ...
func (s Skyline) Flatten() []int32 {
	out := make([]int32, 0, 2*len(s))
	for _, p := range s {
		out = append(out, p.K, p.L)
	}
	return out
}

// Encode renders s as a dot-separated attribute string, e.g. "0.3.2.1".
func Encode(s Skyline) string {
	var b strings.Builder
	for i, v := range s.Flatten() {
		if i > 0 {
			b.WriteString(Delimiter)
		}
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	return b.String()
}

// FormatOutput renders s the way result files carry it: every integer
// prefixed by the delimiter, e.g. ".0.3.2.1".
func FormatOutput(s Skyline) string {
	var b strings.Builder
	for _, v := range s.Flatten() {
		b.WriteString(Delimiter)
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	return b.String()
}

// ParseError reports a token of an attribute string that is not an integer.
type ParseError struct {
	Input string
	Token string
	Index int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("skyline %q: token %d (%q) is not an integer", e.Input, e.Index, e.Token)
}

func (e *ParseError) Unwrap() error {
	return common.ErrParse
}

// Parse decodes a dot-separated attribute string. The empty string decodes
// to the empty skyline. The result must be a valid frontier.
func Parse(attr string) (Skyline, error) {
	attr = strings.TrimSpace(attr)
	if attr == "" {
		return Skyline{}, nil
	}

	tokens := strings.Split(attr, Delimiter)
	values := make([]int32, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return nil, &ParseError{Input: attr, Token: tok, Index: i}
		}
		values[i] = int32(v)
	}
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("skyline %q has %d integers, want pairs: %w", attr, len(values), common.ErrInvalidArgument)
	}

	s := make(Skyline, len(values)/2)
	for i := range s {
		s[i] = Pair{K: values[2*i], L: values[2*i+1]}
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("skyline %q: %w", attr, err)
	}
	return s, nil
}

// AppendBinary appends the message payload encoding of s to b: the pair
// count followed by k and l of every pair, all as varints.
func AppendBinary(b []byte, s Skyline) []byte {
	b = protowire.AppendVarint(b, uint64(len(s)))
	for _, p := range s {
		b = protowire.AppendVarint(b, uint64(p.K))
		b = protowire.AppendVarint(b, uint64(p.L))
	}
	return b
}

// DecodeBinary decodes a payload produced by AppendBinary. The result must
// be a valid frontier.
func DecodeBinary(b []byte) (Skyline, error) {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, fmt.Errorf("skyline payload: %w", protowire.ParseError(n))
	}
	b = b[n:]
	// Every pair needs at least two bytes.
	if count > uint64(len(b)/2) {
		return nil, fmt.Errorf("skyline payload: %d pairs in %d bytes: %w", count, len(b), common.ErrParse)
	}

	s := make(Skyline, count)
	for i := range s {
		k, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("skyline payload pair %d: %w", i, protowire.ParseError(n))
		}
		b = b[n:]
		l, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("skyline payload pair %d: %w", i, protowire.ParseError(n))
		}
		b = b[n:]
		if k > math.MaxInt32 || l > math.MaxInt32 {
			return nil, fmt.Errorf("skyline payload pair %d: (%d,%d) overflows int32: %w", i, k, l, common.ErrParse)
		}
		s[i] = Pair{K: int32(k), L: int32(l)}
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("skyline payload: %d trailing bytes: %w", len(b), common.ErrParse)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("skyline payload: %w", err)
	}
	return s, nil
}
