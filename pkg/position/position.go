// Package position computes the fractional order keys that give tasks a
// stable manual ordering inside a status column.
//
// Keys are strings over a base-62 alphabet whose lexicographic order is
// the item order. A key denotes the fraction 0.d1d2...dn in base 62;
// generated keys never end in the smallest digit, so distinct keys are
// never numerically equal and string comparison is exact. Raw floating
// point is deliberately avoided: precision exhaustion here is a concrete,
// detectable condition (no representable midpoint within MaxKeyLength)
// rather than an approximation artifact.
//
// The engine is pure and storage-agnostic. Mutation handlers call
// KeyBetween before persisting a move and Rebalance when KeyBetween
// reports ErrPrecisionExhausted.
package position

import (
	"errors"
	"fmt"
	"strings"
)

// alphabet is the key digit set, in ASCII order so byte-wise string
// comparison matches digit order.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

// DefaultMaxKeyLength bounds generated key length. Hitting the bound is
// the precision-exhaustion signal that tells callers to rebalance.
const DefaultMaxKeyLength = 256

// ErrPrecisionExhausted is returned by KeyBetween when no midpoint is
// representable within the engine's MaxKeyLength. Callers should
// rebalance the column and retry.
var ErrPrecisionExhausted = errors.New("position: no representable midpoint, rebalance required")

// ErrInvalidKey is returned when an input key is malformed: empty where
// a key is required, contains bytes outside the alphabet, or carries a
// trailing smallest digit.
var ErrInvalidKey = errors.New("position: invalid key")

// ErrInvalidRange is returned when prev >= next.
var ErrInvalidRange = errors.New("position: prev must be strictly less than next")

// Engine computes and rebalances order keys.
type Engine struct {
	// MaxKeyLength is the longest key the engine will produce.
	MaxKeyLength int
}

// NewEngine returns an Engine with the given key length bound; zero or
// negative means DefaultMaxKeyLength.
func NewEngine(maxKeyLength int) *Engine {
	if maxKeyLength <= 0 {
		maxKeyLength = DefaultMaxKeyLength
	}
	return &Engine{MaxKeyLength: maxKeyLength}
}

var defaultEngine = NewEngine(0)

// KeyBetween returns a key strictly between prev and next using the
// default engine. Empty bounds are open ends.
func KeyBetween(prev, next string) (string, error) {
	return defaultEngine.KeyBetween(prev, next)
}

// Rebalance returns n evenly spaced keys using the default engine.
func Rebalance(n int) []string {
	return defaultEngine.Rebalance(n)
}

// digitIndex maps an alphabet byte to its digit value, or -1.
func digitIndex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 36
	default:
		return -1
	}
}

// ValidKey reports whether s is a well-formed order key: non-empty,
// alphabet bytes only, no trailing smallest digit.
func ValidKey(s string) bool {
	if s == "" || s[len(s)-1] == alphabet[0] {
		return false
	}
	for i := 0; i < len(s); i++ {
		if digitIndex(s[i]) < 0 {
			return false
		}
	}
	return true
}

// KeyBetween returns a key k with prev < k < next. An empty prev means
// "before the first item"; an empty next means "after the last item".
// When the shortest representable midpoint would exceed MaxKeyLength,
// ErrPrecisionExhausted is returned instead of a non-monotonic key.
func (e *Engine) KeyBetween(prev, next string) (string, error) {
	if prev != "" && !ValidKey(prev) {
		return "", fmt.Errorf("%w: prev %q", ErrInvalidKey, prev)
	}
	if next != "" && !ValidKey(next) {
		return "", fmt.Errorf("%w: next %q", ErrInvalidKey, next)
	}
	if prev != "" && next != "" && prev >= next {
		return "", fmt.Errorf("%w: %q >= %q", ErrInvalidRange, prev, next)
	}

	key := midpoint(prev, next)
	if len(key) > e.MaxKeyLength {
		return "", ErrPrecisionExhausted
	}
	return key, nil
}

// midpoint returns the shortest key strictly between a and b, where ""
// means the open lower bound for a and the open upper bound for b.
// Preconditions: a < b when both are set; neither ends in alphabet[0].
func midpoint(a, b string) string {
	if b != "" {
		// Strip the common prefix (missing digits of a read as the
		// smallest digit) and recurse on the differing suffix.
		i := 0
		for i < len(b) {
			ca := alphabet[0]
			if i < len(a) {
				ca = a[i]
			}
			if ca != b[i] {
				break
			}
			i++
		}
		if i > 0 {
			var asuf string
			if i < len(a) {
				asuf = a[i:]
			}
			return b[:i] + midpoint(asuf, b[i:])
		}
	}

	// First digits differ (da < db by the ordering precondition).
	da := 0
	if a != "" {
		da = digitIndex(a[0])
	}
	db := base
	if b != "" {
		db = digitIndex(b[0])
	}

	if db-da > 1 {
		// Room for a single-digit midpoint. Integer halving keeps
		// da < mid < db.
		mid := (da + db) / 2
		return string(alphabet[mid])
	}

	// Consecutive digits: extend below the boundary. Anything of the
	// form alphabet[da] + x with x > a[1:] sits strictly between.
	var arest string
	if len(a) > 1 {
		arest = a[1:]
	}
	return string(alphabet[da]) + midpoint(arest, "")
}

// First returns the key for the first item of an empty column.
func (e *Engine) First() string {
	key, _ := e.KeyBetween("", "")
	return key
}

// Rebalance returns n evenly spaced keys in ascending order, shortest
// representation first. It never fails: rebalancing is the recovery path
// for precision exhaustion.
func (e *Engine) Rebalance(n int) []string {
	if n <= 0 {
		return nil
	}

	// Smallest digit count whose key space fits n+1 gaps.
	length := 1
	capacity := uint64(base)
	for capacity < uint64(n)+1 {
		length++
		capacity *= uint64(base)
	}

	step := capacity / (uint64(n) + 1)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = formatKey((uint64(i)+1)*step, length)
	}
	return keys
}

// formatKey renders v as a fixed-length base-62 fraction and strips
// trailing smallest digits (value-preserving, keeps keys canonical).
func formatKey(v uint64, length int) string {
	digits := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		digits[i] = alphabet[v%uint64(base)]
		v /= uint64(base)
	}
	return strings.TrimRight(string(digits), string(alphabet[0]))
}

// ValidateOrder reports whether keys are strictly ascending and well
// formed, which is the invariant a column must maintain.
func ValidateOrder(keys []string) bool {
	for i, k := range keys {
		if !ValidKey(k) {
			return false
		}
		if i > 0 && keys[i-1] >= k {
			return false
		}
	}
	return true
}

// Neighbors are the order keys adjacent to a requested insertion point.
type Neighbors struct {
	Prev string
	Next string
}

// ResolveMove computes the canonical key for a move requested against
// the neighbor keys the client observed. If the persisted neighbors no
// longer match (a concurrent move won the race), the key is recomputed
// against the current neighbors and conflicted is true: position is
// last-applied-wins, and the returned key is what gets broadcast.
func (e *Engine) ResolveMove(observed, current Neighbors) (key string, conflicted bool, err error) {
	conflicted = observed != current
	key, err = e.KeyBetween(current.Prev, current.Next)
	return key, conflicted, err
}
