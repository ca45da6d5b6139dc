package concept

// BaseValueType enumerates the built-in value types.
type BaseValueType int

const (
	BaseBoolean BaseValueType = iota
	BaseLong
	BaseDouble
	BaseDecimal
	BaseString
	BaseDate
	BaseDatetime
	BaseDatetimeTZ
	BaseDuration
	BaseStruct
)

// ValueType describes the type of a Value. Struct value types also carry the
// declared name of the struct.
type ValueType struct {
	Base       BaseValueType
	StructName string
}

var (
	ValueTypeBoolean    = ValueType{Base: BaseBoolean}
	ValueTypeLong       = ValueType{Base: BaseLong}
	ValueTypeDouble     = ValueType{Base: BaseDouble}
	ValueTypeDecimal    = ValueType{Base: BaseDecimal}
	ValueTypeString     = ValueType{Base: BaseString}
	ValueTypeDate       = ValueType{Base: BaseDate}
	ValueTypeDatetime   = ValueType{Base: BaseDatetime}
	ValueTypeDatetimeTZ = ValueType{Base: BaseDatetimeTZ}
	ValueTypeDuration   = ValueType{Base: BaseDuration}
)

// StructValueType returns the value type of a user-defined struct.
func StructValueType(name string) ValueType {
	return ValueType{Base: BaseStruct, StructName: name}
}

// Name returns the document name of the value type. User-defined structs are
// named after their declaration.
func (vt ValueType) Name() string {
	switch vt.Base {
	case BaseBoolean:
		return "boolean"
	case BaseLong:
		return "long"
	case BaseDouble:
		return "double"
	case BaseDecimal:
		return "decimal"
	case BaseString:
		return "string"
	case BaseDate:
		return "date"
	case BaseDatetime:
		return "datetime"
	case BaseDatetimeTZ:
		return "datetime-tz"
	case BaseDuration:
		return "duration"
	case BaseStruct:
		return vt.StructName
	default:
		return "unknown"
	}
}

func (vt ValueType) String() string {
	return vt.Name()
}

// IsStruct reports whether the value type is a user-defined struct.
func (vt ValueType) IsStruct() bool {
	return vt.Base == BaseStruct
}
