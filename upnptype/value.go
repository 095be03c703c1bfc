package upnptype

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Value is a tagged scalar, the Go representation of a UPnP "Scalar Value"
// (spec.md §3). Boxed string aliases (uuid, uri, bin.base64, bin.hex, date,
// dateTime[.tz], time[.tz]) are stored as their wire string and decoded to a
// typed value only on demand — they behave as strings in transport and
// round-trip unchanged, per spec.
type Value struct {
	typ Type
	raw any // string | int64 | uint64 | float64 | bool
}

// InvalidValueError reports a failed parse/cast for a given type.
type InvalidValueError struct {
	Type  Type
	Input string
	Err   error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("upnptype: invalid %s value %q: %v", e.Type, e.Input, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

func invalid(t Type, in string, err error) error {
	return &InvalidValueError{Type: t, Input: in, Err: err}
}

// Type returns the value's UPnP datatype.
func (v Value) Type() Type { return v.typ }

// Parse converts a wire string into a typed Value for target. Integers are
// decimal ASCII with an optional leading sign for signed types; overflow is
// a parse failure. Floats are parsed with strconv, which is locale
// independent regardless of process locale (spec.md §4.1's "C-locale"
// requirement). Boxed string aliases are accepted verbatim, with no
// validation, and decoded lazily by their typed accessor.
func Parse(s string, target Type) (Value, error) {
	switch target {
	case UI1, UI2, UI4:
		bits := bitsFor(target)
		u, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
		if err != nil {
			return Value{}, invalid(target, s, err)
		}
		return Value{typ: target, raw: u}, nil

	case I1, I2, I4, Int:
		bits := bitsFor(target)
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
		if err != nil {
			return Value{}, invalid(target, s, err)
		}
		return Value{typ: target, raw: i}, nil

	case R4, R8, Number, Fixed144:
		bits := 64
		if target == R4 {
			bits = 32
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
		if err != nil {
			return Value{}, invalid(target, s, err)
		}
		return Value{typ: target, raw: f}, nil

	case Boolean:
		b, ok := parseBoolean(s)
		if !ok {
			return Value{}, invalid(target, s, fmt.Errorf("not a UPnP boolean"))
		}
		return Value{typ: target, raw: b}, nil

	case Char:
		if len([]rune(s)) != 1 {
			return Value{}, invalid(target, s, fmt.Errorf("char must be exactly one rune"))
		}
		return Value{typ: target, raw: s}, nil

	default:
		// String and every boxed string alias: preserved verbatim, never
		// fails. Unknown SCPD dataType also maps here (ParseType already
		// folded Unknown into String).
		return Value{typ: target, raw: s}, nil
	}
}

// ToWire renders v back to its wire string representation.
func ToWire(v Value) string {
	switch v.typ {
	case UI1, UI2, UI4:
		return strconv.FormatUint(v.raw.(uint64), 10)
	case I1, I2, I4, Int:
		return strconv.FormatInt(v.raw.(int64), 10)
	case R4:
		return strconv.FormatFloat(v.raw.(float64), 'g', -1, 32)
	case R8, Number, Fixed144:
		return strconv.FormatFloat(v.raw.(float64), 'g', -1, 64)
	case Boolean:
		if v.raw.(bool) {
			return "1"
		}
		return "0"
	default:
		return v.raw.(string)
	}
}

func bitsFor(t Type) int {
	switch t {
	case UI1, I1:
		return 8
	case UI2, I2:
		return 16
	case UI4, I4, Int:
		return 32
	default:
		return 64
	}
}

// parseBoolean accepts 1/0/true/false/yes/no, case-insensitive, per
// spec.md §4.1.
func parseBoolean(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

// Constructors for building values from already-typed Go data (used by
// application code setting state variables and action results).

func NewString(t Type, s string) Value   { return Value{typ: t, raw: s} }
func NewInt64(t Type, i int64) Value     { return Value{typ: t, raw: i} }
func NewUint64(t Type, u uint64) Value   { return Value{typ: t, raw: u} }
func NewFloat64(t Type, f float64) Value { return Value{typ: t, raw: f} }
func NewBool(b bool) Value               { return Value{typ: Boolean, raw: b} }

// Int64 returns v's integer payload, for signed integer types.
func (v Value) Int64() (int64, bool) {
	i, ok := v.raw.(int64)
	return i, ok
}

// Uint64 returns v's integer payload, for unsigned integer types.
func (v Value) Uint64() (uint64, bool) {
	u, ok := v.raw.(uint64)
	return u, ok
}

// Float64 returns v's floating-point payload.
func (v Value) Float64() (float64, bool) {
	f, ok := v.raw.(float64)
	return f, ok
}

// Bool returns v's boolean payload.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// String returns v's wire representation, identical to ToWire(v).
func (v Value) String() string { return ToWire(v) }

// Bytes decodes a bin.base64/bin.hex value. Returns ok=false for any other
// type or malformed payload — callers that need strict validation should
// check the error via DecodeBytes.
func (v Value) Bytes() ([]byte, bool) {
	b, err := DecodeBytes(v)
	return b, err == nil
}

// DecodeBytes decodes a bin.base64/bin.hex boxed string to raw bytes.
func DecodeBytes(v Value) ([]byte, error) {
	s, _ := v.raw.(string)
	switch v.typ {
	case BinBase64:
		return base64.StdEncoding.DecodeString(s)
	case BinHex:
		s = strings.TrimSpace(s)
		if len(s)%2 != 0 {
			return nil, fmt.Errorf("bin.hex: odd-length string")
		}
		out := make([]byte, len(s)/2)
		if _, err := hex.Decode(out, []byte(s)); err != nil {
			return nil, fmt.Errorf("bin.hex: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a binary type: %s", v.typ)
	}
}

// UUIDValue decodes a uuid-typed value.
func (v Value) UUIDValue() (uuid.UUID, error) {
	if v.typ != UUID {
		return uuid.UUID{}, fmt.Errorf("not a uuid type: %s", v.typ)
	}
	return uuid.Parse(strings.TrimSpace(v.raw.(string)))
}

// URLValue decodes a uri-typed value.
func (v Value) URLValue() (*url.URL, error) {
	if v.typ != URI {
		return nil, fmt.Errorf("not a uri type: %s", v.typ)
	}
	return url.Parse(strings.TrimSpace(v.raw.(string)))
}

// timeLayouts mirrors the teacher's parseUPnPTime layout table
// (internal/upnp/statevaluetype.go), one layout set per date/time type.
var timeLayouts = map[Type][]string{
	Date:       {"2006-01-02"},
	Time:       {"15:04:05"},
	TimeTZ:     {"15:04:05Z07:00"},
	DateTime:   {"2006-01-02T15:04:05"},
	DateTimeTZ: {"2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05Z"},
}

// TimeValue decodes a date/time-family value.
func (v Value) TimeValue() (time.Time, error) {
	layouts, ok := timeLayouts[v.typ]
	if !ok {
		return time.Time{}, fmt.Errorf("not a date/time type: %s", v.typ)
	}
	s := strings.TrimSpace(v.raw.(string))
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
