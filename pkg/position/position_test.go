package position

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func TestKeyBetween_Betweenness(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
	}{
		{"both open", "", ""},
		{"open lower", "", "V"},
		{"open upper", "V", ""},
		{"simple gap", "3", "9"},
		{"adjacent digits", "V", "W"},
		{"shared prefix", "AB", "AC"},
		{"prev is prefix of next", "A", "AV"},
		{"long prev", "Azzz", "B"},
		{"deep adjacency", "A01", "A02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := KeyBetween(tt.prev, tt.next)
			if err != nil {
				t.Fatalf("KeyBetween(%q, %q) error: %v", tt.prev, tt.next, err)
			}
			if !ValidKey(key) {
				t.Fatalf("KeyBetween(%q, %q) = %q, not a valid key", tt.prev, tt.next, key)
			}
			if tt.prev != "" && key <= tt.prev {
				t.Fatalf("KeyBetween(%q, %q) = %q, not above prev", tt.prev, tt.next, key)
			}
			if tt.next != "" && key >= tt.next {
				t.Fatalf("KeyBetween(%q, %q) = %q, not below next", tt.prev, tt.next, key)
			}
		})
	}
}

func TestKeyBetween_InvalidInputs(t *testing.T) {
	tests := []struct {
		name    string
		prev    string
		next    string
		wantErr error
	}{
		{"reversed range", "W", "V", ErrInvalidRange},
		{"equal keys", "V", "V", ErrInvalidRange},
		{"trailing zero prev", "A0", "B", ErrInvalidKey},
		{"trailing zero next", "A", "B0", ErrInvalidKey},
		{"bad byte", "A!", "B", ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KeyBetween(tt.prev, tt.next)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("KeyBetween(%q, %q) error = %v, want %v", tt.prev, tt.next, err, tt.wantErr)
			}
		})
	}
}

// Repeated insertion at the head is the worst case for key growth: each
// step needs a key below the previous smallest.
func TestKeyBetween_RepeatedHeadInsertGrowsBounded(t *testing.T) {
	next := ""
	for i := 0; i < 200; i++ {
		key, err := KeyBetween("", next)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if next != "" && key >= next {
			t.Fatalf("insert %d: %q not below %q", i, key, next)
		}
		next = key
	}
	// Head insertion halves the remaining space each step, so 200
	// inserts stay far below the default bound.
	if len(next) > 40 {
		t.Fatalf("head-insert key grew to %d bytes", len(next))
	}
}

func TestKeyBetween_PrecisionExhausted(t *testing.T) {
	engine := NewEngine(4)

	prev := ""
	var err error
	var key string
	for i := 0; i < 100; i++ {
		key, err = engine.KeyBetween(prev, appendSmallest(prev))
		if err != nil {
			break
		}
		prev = key
	}
	if !errors.Is(err, ErrPrecisionExhausted) {
		t.Fatalf("expected ErrPrecisionExhausted, got %v", err)
	}
}

// appendSmallest returns the tightest valid upper bound just above s.
func appendSmallest(s string) string {
	return s + "1"
}

func TestKeyBetween_ExhaustionBetweenAdjacentLongKeys(t *testing.T) {
	engine := NewEngine(3)

	// "zz1" and "zz2" have no midpoint within 3 digits.
	_, err := engine.KeyBetween("zz1", "zz2")
	if !errors.Is(err, ErrPrecisionExhausted) {
		t.Fatalf("expected ErrPrecisionExhausted, got %v", err)
	}

	// The default engine has room.
	key, err := KeyBetween("zz1", "zz2")
	if err != nil {
		t.Fatalf("default engine: %v", err)
	}
	if key <= "zz1" || key >= "zz2" {
		t.Fatalf("key %q not between", key)
	}
}

func TestFirst(t *testing.T) {
	key := NewEngine(0).First()
	if !ValidKey(key) {
		t.Fatalf("First() = %q, not valid", key)
	}
}

func TestRebalance(t *testing.T) {
	for _, n := range []int{0, 1, 2, 10, 61, 62, 100, 5000} {
		keys := Rebalance(n)
		if len(keys) != n {
			t.Fatalf("Rebalance(%d) returned %d keys", n, len(keys))
		}
		if !ValidateOrder(keys) {
			t.Fatalf("Rebalance(%d) keys not strictly ascending and valid", n)
		}
		if !sort.StringsAreSorted(keys) {
			t.Fatalf("Rebalance(%d) keys not sorted", n)
		}
	}
}

func TestRebalance_ShortensKeys(t *testing.T) {
	keys := Rebalance(10)
	for _, k := range keys {
		if len(k) != 1 {
			t.Fatalf("Rebalance(10) produced key %q, want single digit", k)
		}
	}
}

func TestRebalance_LeavesRoomForInserts(t *testing.T) {
	keys := Rebalance(20)

	// Inserting before the first, between each pair, and after the last
	// must all succeed right after a rebalance.
	if _, err := KeyBetween("", keys[0]); err != nil {
		t.Fatalf("insert before first: %v", err)
	}
	for i := 0; i < len(keys)-1; i++ {
		if _, err := KeyBetween(keys[i], keys[i+1]); err != nil {
			t.Fatalf("insert between %q and %q: %v", keys[i], keys[i+1], err)
		}
	}
	if _, err := KeyBetween(keys[len(keys)-1], ""); err != nil {
		t.Fatalf("insert after last: %v", err)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"V", true},
		{"A1", true},
		{"zzz", true},
		{"", false},
		{"A0", false},
		{"0", false},
		{"a b", false},
		{"-", false},
	}
	for _, tt := range tests {
		if got := ValidKey(tt.key); got != tt.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestValidateOrder(t *testing.T) {
	if !ValidateOrder([]string{"A", "B", "C"}) {
		t.Error("ascending keys should validate")
	}
	if ValidateOrder([]string{"B", "A"}) {
		t.Error("descending keys should not validate")
	}
	if ValidateOrder([]string{"A", "A"}) {
		t.Error("duplicate keys should not validate")
	}
	if ValidateOrder([]string{"A", "B0"}) {
		t.Error("malformed key should not validate")
	}
	if !ValidateOrder(nil) {
		t.Error("empty column should validate")
	}
}

func TestResolveMove_NoConflict(t *testing.T) {
	engine := NewEngine(0)
	observed := Neighbors{Prev: "A", Next: "C"}

	key, conflicted, err := engine.ResolveMove(observed, observed)
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if conflicted {
		t.Error("matching neighbors should not conflict")
	}
	if key <= "A" || key >= "C" {
		t.Errorf("key %q not between observed neighbors", key)
	}
}

func TestResolveMove_ConcurrentMovesConverge(t *testing.T) {
	engine := NewEngine(0)

	// Two clients observed the same gap; the first commit changes the
	// neighbors the second sees.
	observed := Neighbors{Prev: "A", Next: "C"}

	first, conflicted, err := engine.ResolveMove(observed, observed)
	if err != nil || conflicted {
		t.Fatalf("first move: key err=%v conflicted=%v", err, conflicted)
	}

	current := Neighbors{Prev: first, Next: "C"}
	second, conflicted, err := engine.ResolveMove(observed, current)
	if err != nil {
		t.Fatalf("second move: %v", err)
	}
	if !conflicted {
		t.Error("stale neighbors should report a conflict")
	}
	if second <= first || second >= "C" {
		t.Errorf("canonical key %q not between %q and %q", second, first, "C")
	}
	if !ValidateOrder([]string{"A", first, second, "C"}) {
		t.Error("resolved column order is not strictly ascending")
	}
}

func TestMidpointNeverEndsInSmallestDigit(t *testing.T) {
	pairs := [][2]string{
		{"", ""}, {"", "1"}, {"1", "2"}, {"A", "B"}, {"Az", "B"}, {"A", "A1"},
	}
	for _, p := range pairs {
		key, err := KeyBetween(p[0], p[1])
		if err != nil {
			t.Fatalf("KeyBetween(%q, %q): %v", p[0], p[1], err)
		}
		if strings.HasSuffix(key, "0") {
			t.Errorf("KeyBetween(%q, %q) = %q ends in smallest digit", p[0], p[1], key)
		}
	}
}
