// Package pod copies fixed-layout values out of remote memory.
package pod

import (
	"errors"
	"reflect"
	"unsafe"

	"objgraph/process"
)

var ErrNotPOD = errors.New("type contains pointers; not POD-safe")

func SizeOf[T any]() process.ProcessMemorySize {
	var t T
	return process.ProcessMemorySize(unsafe.Sizeof(t))
}

// ReadT reads sizeof(T) bytes at addr and copies them into a T.
// T must be POD: it and all of its fields/element types contain no pointers.
func ReadT[T any](r process.Reader, addr process.ProcessMemoryAddress) (T, error) {
	var zero T
	size := SizeOf[T]()
	if size == 0 {
		return zero, errors.New("ReadT: size of T is zero")
	}

	data, err := r.ReadMemory(addr, size)
	if err != nil {
		return zero, err
	}
	return FromBytes[T](data)
}

// FromBytes copies the first sizeof(T) bytes of data into a new T.
func FromBytes[T any](data []byte) (T, error) {
	var tmp T
	if hasPointers[T]() {
		return tmp, ErrNotPOD
	}

	size := int(unsafe.Sizeof(tmp))
	if len(data) < size {
		return tmp, errors.New("FromBytes: buffer too small")
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(&tmp)), size)
	copy(dst, data[:size])
	return tmp, nil
}

// hasPointers reports whether T (recursively) contains any pointer-like fields.
func hasPointers[T any]() bool {
	var t T
	return typeHasPointers(reflect.TypeOf(t))
}

func typeHasPointers(rt reflect.Type) bool {
	if rt == nil {
		return true
	}
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if typeHasPointers(rt.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		// bool, ints, uints, floats, complex, etc.
		return false
	}
}
