// Package upnptype implements the UPnP scalar datatype registry: the
// mapping between SCPD "dataType" strings and Go values, and the
// string<->value coercion rules used on the wire by SOAP and GENA.
package upnptype

import "strings"

// Type identifies a UPnP state-variable/argument datatype.
type Type int

const (
	Unknown Type = iota
	UI1
	UI2
	UI4
	I1
	I2
	I4
	Int // synonymous with i4
	R4
	R8
	Number // synonymous with r8
	Fixed144
	Char
	String
	Boolean
	BinBase64
	BinHex
	Date
	DateTime
	DateTimeTZ
	Time
	TimeTZ
	UUID
	URI
)

var names = map[string]Type{
	"ui1":         UI1,
	"ui2":         UI2,
	"ui4":         UI4,
	"i1":          I1,
	"i2":          I2,
	"i4":          I4,
	"int":         Int,
	"r4":          R4,
	"r8":          R8,
	"number":      Number,
	"fixed.14.4":  Fixed144,
	"char":        Char,
	"string":      String,
	"boolean":     Boolean,
	"bin.base64":  BinBase64,
	"bin.hex":     BinHex,
	"date":        Date,
	"dateTime":    DateTime,
	"dateTime.tz": DateTimeTZ,
	"time":        Time,
	"time.tz":     TimeTZ,
	"uuid":        UUID,
	"uri":         URI,
}

var strs = [...]string{
	"unknown",
	"ui1", "ui2", "ui4",
	"i1", "i2", "i4", "int",
	"r4", "r8", "number", "fixed.14.4",
	"char", "string", "boolean",
	"bin.base64", "bin.hex",
	"date", "dateTime", "dateTime.tz", "time", "time.tz",
	"uuid", "uri",
}

// String returns the SCPD dataType name for t, or "unknown".
func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(strs) {
		return strs[t]
	}
	return "unknown"
}

// ParseType converts an SCPD dataType string to a Type. Unrecognized
// dataTypes map to String, per spec.
func ParseType(s string) Type {
	s = strings.TrimSpace(s)
	if t, ok := names[s]; ok {
		return t
	}
	for name, t := range names {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return String
}

// isBoxedString reports whether t behaves as a plain, unvalidated string on
// the wire: uuid, uri, bin.base64, bin.hex, date, dateTime[.tz], time[.tz].
// These round-trip verbatim in ToWire/Parse even though they also support a
// typed accessor (Bytes, UUID, URL, Time).
func (t Type) isBoxedString() bool {
	switch t {
	case UUID, URI, BinBase64, BinHex, Date, DateTime, DateTimeTZ, Time, TimeTZ:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether t is one of the integer or floating types.
func (t Type) IsNumeric() bool {
	switch t {
	case UI1, UI2, UI4, I1, I2, I4, Int, R4, R8, Number, Fixed144:
		return true
	default:
		return false
	}
}
