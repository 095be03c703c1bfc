package upnptype

import "fmt"

// Range describes a UPnP allowedValueRange: minimum, maximum and an
// optional step, all expressed in the variable's own numeric type.
type Range struct {
	Type Type
	Min  Value
	Max  Value
	Step Value // zero Value (Type()==Unknown) when absent
}

// NewRange builds a Range over numeric type t. step may be the zero Value.
func NewRange(t Type, min, max, step Value) (Range, error) {
	if !t.IsNumeric() {
		return Range{}, fmt.Errorf("upnptype: range type %s is not numeric", t)
	}
	return Range{Type: t, Min: min, Max: max, Step: step}, nil
}

// InRange reports whether v falls within r, inclusive, and — if r has a
// step — lands on a step boundary from Min.
func InRange(v Value, r Range) bool {
	if Cmp(v, r.Min) < 0 || Cmp(v, r.Max) > 0 {
		return false
	}
	if r.Step.typ == Unknown {
		return true
	}
	lo, _ := toFloat(r.Min)
	hi, _ := toFloat(r.Step)
	cur, _ := toFloat(v)
	if hi == 0 {
		return true
	}
	steps := (cur - lo) / hi
	return steps == float64(int64(steps+0.5)) || nearInt(steps)
}

func nearInt(f float64) bool {
	const eps = 1e-9
	r := f - float64(int64(f))
	return r < eps && r > -eps
}

// Cast converts v to target, by round-tripping through the wire string.
// This matches the teacher's own Cast strategy of reusing Parse/ToWire
// rather than a bespoke numeric conversion per type pair.
func Cast(v Value, target Type) (Value, error) {
	if v.typ == target {
		return v, nil
	}
	return Parse(ToWire(v), target)
}

// Cmp compares two values numerically when both are of a numeric type.
// Any other pair, including a numeric value against a non-numeric one,
// compares by wire string; Cmp does not check that the two types are
// compatible.
func Cmp(a, b Value) int {
	if a.typ.IsNumeric() && b.typ.IsNumeric() {
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := ToWire(a), ToWire(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v Value) (float64, bool) {
	switch n := v.raw.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
