package concept

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a primitive or structured value returned by a query. It is either
// free-standing or held by an Attribute.
//
// The typed accessors panic when called for a different value type.
type Value struct {
	valueType ValueType

	boolean  bool
	long     int64
	double   float64
	decimal  Decimal
	str      string
	instant  time.Time
	duration Duration
	strct    *Struct
}

// StructField is one field of a struct value. A nil Value means the field is
// optional and unset.
type StructField struct {
	Name  string
	Value *Value
}

// Struct is an instance of a user-defined struct type.
type Struct struct {
	Name   string
	Fields []StructField
}

// Field returns the named field value and whether the field is declared.
func (s *Struct) Field(name string) (*Value, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func NewBoolean(b bool) Value {
	return Value{valueType: ValueTypeBoolean, boolean: b}
}

func NewLong(l int64) Value {
	return Value{valueType: ValueTypeLong, long: l}
}

func NewDouble(d float64) Value {
	return Value{valueType: ValueTypeDouble, double: d}
}

func NewDecimalValue(d Decimal) Value {
	return Value{valueType: ValueTypeDecimal, decimal: d}
}

func NewString(s string) Value {
	return Value{valueType: ValueTypeString, str: s}
}

// NewDate keeps only the calendar date of t.
func NewDate(t time.Time) Value {
	y, m, d := t.Date()
	return Value{valueType: ValueTypeDate, instant: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewDatetime stores t as a naive datetime: its wall clock is kept and its
// location dropped.
func NewDatetime(t time.Time) Value {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return Value{valueType: ValueTypeDatetime, instant: time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)}
}

func NewDatetimeTZ(t time.Time) Value {
	return Value{valueType: ValueTypeDatetimeTZ, instant: t}
}

func NewDuration(d Duration) Value {
	return Value{valueType: ValueTypeDuration, duration: d}
}

func NewStruct(s *Struct) Value {
	return Value{valueType: StructValueType(s.Name), strct: s}
}

// Type returns the value type.
func (v Value) Type() ValueType {
	return v.valueType
}

func (v Value) Boolean() bool {
	v.expect(BaseBoolean)
	return v.boolean
}

func (v Value) Long() int64 {
	v.expect(BaseLong)
	return v.long
}

func (v Value) Double() float64 {
	v.expect(BaseDouble)
	return v.double
}

func (v Value) Decimal() Decimal {
	v.expect(BaseDecimal)
	return v.decimal
}

func (v Value) String() string {
	switch v.valueType.Base {
	case BaseBoolean:
		return strconv.FormatBool(v.boolean)
	case BaseLong:
		return strconv.FormatInt(v.long, 10)
	case BaseDouble:
		return strconv.FormatFloat(v.double, 'g', -1, 64)
	case BaseDecimal:
		return v.decimal.String()
	case BaseString:
		return v.str
	case BaseDate:
		return FormatDate(v.instant)
	case BaseDatetime:
		return FormatDatetime(v.instant)
	case BaseDatetimeTZ:
		return FormatDatetimeTZ(v.instant)
	case BaseDuration:
		return v.duration.String()
	case BaseStruct:
		return v.strct.String()
	default:
		return "<invalid value>"
	}
}

// Text returns the payload of a string value.
func (v Value) Text() string {
	v.expect(BaseString)
	return v.str
}

// Time returns the payload of a date, datetime or datetime-tz value.
func (v Value) Time() time.Time {
	switch v.valueType.Base {
	case BaseDate, BaseDatetime, BaseDatetimeTZ:
		return v.instant
	}
	panic(fmt.Sprintf("value of type %s is not temporal", v.valueType))
}

func (v Value) Duration() Duration {
	v.expect(BaseDuration)
	return v.duration
}

func (v Value) Struct() *Struct {
	v.expect(BaseStruct)
	return v.strct
}

func (v Value) expect(base BaseValueType) {
	if v.valueType.Base != base {
		panic(fmt.Sprintf("value of type %s accessed as %s", v.valueType, ValueType{Base: base}))
	}
}

func (s *Struct) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString(" { ")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		if f.Value == nil {
			b.WriteString("none")
		} else {
			b.WriteString(f.Value.String())
		}
	}
	b.WriteString(" }")
	return b.String()
}
