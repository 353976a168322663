// Package gguf reads the tokenizer stored in the metadata of GGUF model files (the llama.cpp
// format): its vocabulary, scores, token types, merges and special token ids.
//
// Only the header and the metadata are read, tensor data is never touched.
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"
)

const (
	ggufMagic           = "GGUF"
	minSupportedVersion = 2

	maxStringLen  = 1 << 20
	maxArrayCount = 1 << 24

	// arrayChunk bounds the memory allocated ahead of the data actually read.
	arrayChunk = 1 << 12
)

// File holds the metadata of a GGUF file. Create one with Open or Read.
type File struct {
	// Version is the GGUF format version (2 or 3).
	Version uint32
	// TensorCount is the number of tensors declared in the header.
	TensorCount uint64
	// KeyValues holds the metadata key-value pairs, in file order.
	KeyValues []KeyValue

	kvByKey map[string]*KeyValue
}

// Open maps the GGUF file at path into memory and reads its metadata.
func Open(path string) (*File, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: mmap %s: %v", path, err)
	}
	defer func() { _ = reader.Close() }()
	f, err := Read(io.NewSectionReader(reader, 0, int64(reader.Len())))
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %s", path)
	}
	klog.V(1).Infof("gguf: read %s: version %d, %d metadata keys", path, f.Version, len(f.KeyValues))
	return f, nil
}

// Read reads the header and the metadata of a GGUF file.
func Read(r io.Reader) (*File, error) {
	var magic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, malformed(err, "read magic")
	}
	if string(magic[:]) != ggufMagic {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: invalid magic %q, expected %q", magic[:], ggufMagic)
	}
	file := &File{}
	if err := binary.Read(r, binary.LittleEndian, &file.Version); err != nil {
		return nil, malformed(err, "read version")
	}
	if file.Version < minSupportedVersion {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: unsupported version %d (minimum %d)", file.Version, minSupportedVersion)
	}
	var kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &file.TensorCount); err != nil {
		return nil, malformed(err, "read tensor count")
	}
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, malformed(err, "read kv count")
	}
	if kvCount > maxArrayCount {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: kv count %d exceeds the limit", kvCount)
	}

	file.KeyValues = make([]KeyValue, 0, min(kvCount, arrayChunk))
	for range kvCount {
		kv, err := readKeyValue(r)
		if err != nil {
			return nil, malformed(err, "read kv pair %d/%d", len(file.KeyValues), kvCount)
		}
		file.KeyValues = append(file.KeyValues, kv)
	}
	file.kvByKey = make(map[string]*KeyValue, len(file.KeyValues))
	for i := range file.KeyValues {
		file.kvByKey[file.KeyValues[i].Key] = &file.KeyValues[i]
	}
	return file, nil
}

// malformed wraps a read error as a vocabulary error.
func malformed(err error, format string, args ...any) error {
	return errors.Wrapf(api.ErrVocab, "gguf: %s: %v", fmt.Sprintf(format, args...), err)
}

// GetKeyValue looks up a metadata key-value pair by its key.
func (f *File) GetKeyValue(key string) (KeyValue, bool) {
	kv, ok := f.kvByKey[key]
	if !ok {
		return KeyValue{}, false
	}
	return *kv, true
}

// Architecture returns the model architecture ("llama", "bert", ...), or "" if not present.
func (f *File) Architecture() string {
	kv, _ := f.GetKeyValue("general.architecture")
	return kv.String()
}

// readString reads a GGUF string: uint64 length prefix followed by that many bytes.
func readString(r io.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", errors.Wrap(err, "read string length")
	}
	if length > maxStringLen {
		return "", errors.Errorf("string length %d exceeds 1MB limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(err, "read string data")
	}
	return string(buf), nil
}

func readKeyValue(r io.Reader) (KeyValue, error) {
	key, err := readString(r)
	if err != nil {
		return KeyValue{}, errors.WithMessage(err, "read key")
	}
	var typeTag uint32
	if err := binary.Read(r, binary.LittleEndian, &typeTag); err != nil {
		return KeyValue{}, errors.Wrapf(err, "read value type for %q", key)
	}
	val, err := readValue(r, valueType(typeTag))
	if err != nil {
		return KeyValue{}, errors.WithMessagef(err, "read value for %q (type %d)", key, typeTag)
	}
	return KeyValue{Key: key, Value: val}, nil
}

// numericReader reads one value, or a count of values, of a fixed-size GGUF type.
type numericReader struct {
	one  func(r io.Reader) (any, error)
	many func(r io.Reader, count uint64) (any, error)
}

func numeric[T uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64 | float32 | float64]() numericReader {
	return numericReader{
		one: func(r io.Reader) (any, error) {
			var v T
			err := binary.Read(r, binary.LittleEndian, &v)
			return v, err
		},
		many: func(r io.Reader, count uint64) (any, error) {
			vals := make([]T, 0, min(count, arrayChunk))
			for remaining := count; remaining > 0; {
				chunk := make([]T, min(remaining, arrayChunk))
				if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
					return nil, errors.Wrapf(err, "read array element %d of %d", len(vals), count)
				}
				vals = append(vals, chunk...)
				remaining -= uint64(len(chunk))
			}
			return vals, nil
		},
	}
}

var numericReaders = map[valueType]numericReader{
	valueTypeUint8:   numeric[uint8](),
	valueTypeInt8:    numeric[int8](),
	valueTypeUint16:  numeric[uint16](),
	valueTypeInt16:   numeric[int16](),
	valueTypeUint32:  numeric[uint32](),
	valueTypeInt32:   numeric[int32](),
	valueTypeUint64:  numeric[uint64](),
	valueTypeInt64:   numeric[int64](),
	valueTypeFloat32: numeric[float32](),
	valueTypeFloat64: numeric[float64](),
}

func readValue(r io.Reader, vtype valueType) (Value, error) {
	if nr, found := numericReaders[vtype]; found {
		v, err := nr.one(r)
		return Value{data: v}, err
	}
	switch vtype {
	case valueTypeBool:
		v, err := numericReaders[valueTypeUint8].one(r)
		if err != nil {
			return Value{}, err
		}
		return Value{data: v.(uint8) != 0}, nil
	case valueTypeString:
		s, err := readString(r)
		return Value{data: s}, err
	case valueTypeArray:
		return readArray(r)
	}
	return Value{}, errors.Errorf("unknown value type %d", vtype)
}

// readArray reads a typed array: element type (uint32), element count (uint64), then the elements.
func readArray(r io.Reader) (Value, error) {
	var header struct {
		ElemType uint32
		Count    uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return Value{}, errors.Wrap(err, "read array header")
	}
	if header.Count > maxArrayCount {
		return Value{}, errors.Errorf("array count %d exceeds the limit", header.Count)
	}
	elemType := valueType(header.ElemType)
	if nr, found := numericReaders[elemType]; found {
		vals, err := nr.many(r, header.Count)
		return Value{data: vals}, err
	}
	switch elemType {
	case valueTypeBool:
		raw, err := numericReaders[valueTypeUint8].many(r, header.Count)
		if err != nil {
			return Value{}, err
		}
		flags := make([]bool, header.Count)
		for i, b := range raw.([]uint8) {
			flags[i] = b != 0
		}
		return Value{data: flags}, nil
	case valueTypeString:
		strs := make([]string, 0, min(header.Count, arrayChunk))
		for i := range header.Count {
			str, err := readString(r)
			if err != nil {
				return Value{}, errors.WithMessagef(err, "read string array element %d", i)
			}
			strs = append(strs, str)
		}
		return Value{data: strs}, nil
	}
	return Value{}, errors.Errorf("unsupported array element type %d", header.ElemType)
}
