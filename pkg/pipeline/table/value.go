package table

import (
	"strconv"
	"time"
)

// Kind tags the payload a Value carries.
type Kind uint8

const (
	KindMissing Kind = iota
	KindString
	KindNumber
	KindDate
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	default:
		return "missing"
	}
}

// DateLayout is the canonical text form of a date value.
const DateLayout = "2006-01-02"

// Value is one cell. The zero Value is missing.
type Value struct {
	kind Kind
	str  string
	num  float64
	date time.Time
	b    bool
}

func Missing() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date truncates t to its calendar day in UTC.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Str returns the payload of a string value.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the payload of a number value.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Time returns the payload of a date value.
func (v Value) Time() (time.Time, bool) { return v.date, v.kind == KindDate }

// Flag returns the payload of a bool value.
func (v Value) Flag() (bool, bool) { return v.b, v.kind == KindBool }

// String renders the canonical text form; missing renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindDate:
		return v.date.Format(DateLayout)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Equal reports whether both kind and payload match.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindDate:
		return v.date.Equal(o.date)
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}
