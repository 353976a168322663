package gguf

// valueType is the type tag of a GGUF metadata value in the binary format.
type valueType uint32

const (
	valueTypeUint8   valueType = 0
	valueTypeInt8    valueType = 1
	valueTypeUint16  valueType = 2
	valueTypeInt16   valueType = 3
	valueTypeUint32  valueType = 4
	valueTypeInt32   valueType = 5
	valueTypeFloat32 valueType = 6
	valueTypeBool    valueType = 7
	valueTypeString  valueType = 8
	valueTypeArray   valueType = 9
	valueTypeUint64  valueType = 10
	valueTypeInt64   valueType = 11
	valueTypeFloat64 valueType = 12
)

// KeyValue is a metadata entry of a GGUF file.
type KeyValue struct {
	Key string
	Value
}

// Value wraps a GGUF metadata value. Accessors return zero values when the underlying type doesn't
// match.
type Value struct {
	data any
}

// Raw returns the underlying value.
func (v Value) Raw() any {
	return v.data
}

// String returns the value as a string, or "" if it is not a string.
func (v Value) String() string {
	s, _ := v.data.(string)
	return s
}

// Strings returns the value as a string slice, or nil if it is not one.
func (v Value) Strings() []string {
	s, _ := v.data.([]string)
	return s
}

// Bool returns the value as a bool, or false if it is not a bool.
func (v Value) Bool() bool {
	b, _ := v.data.(bool)
	return b
}

// Int returns the value of any integer type as an int64, or 0 if it is not an integer.
func (v Value) Int() int64 {
	switch n := v.data.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

// IsInt reports whether the value is a scalar integer.
func (v Value) IsInt() bool {
	switch v.data.(type) {
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Floats returns a float array as float32 values, or nil if it is not a float array.
func (v Value) Floats() []float32 {
	switch s := v.data.(type) {
	case []float32:
		return s
	case []float64:
		out := make([]float32, len(s))
		for i, f := range s {
			out[i] = float32(f)
		}
		return out
	default:
		return nil
	}
}

// Ints returns an integer array as int values, or nil if it is not an integer array.
func (v Value) Ints() []int {
	switch s := v.data.(type) {
	case []int32:
		return convertInts(s)
	case []int64:
		return convertInts(s)
	case []uint32:
		return convertInts(s)
	case []uint64:
		return convertInts(s)
	case []int8:
		return convertInts(s)
	case []uint8:
		return convertInts(s)
	case []int16:
		return convertInts(s)
	case []uint16:
		return convertInts(s)
	default:
		return nil
	}
}

func convertInts[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](s []T) []int {
	out := make([]int, len(s))
	for i, n := range s {
		out[i] = int(n)
	}
	return out
}
