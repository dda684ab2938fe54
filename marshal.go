package lla

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/lla-lang/lla/internal/vm"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Marshaler allows custom control over Go to script conversion.
type Marshaler interface {
	MarshalLla(vmc *VM) (Value, error)
}

// Unmarshaler allows custom control over script to Go conversion.
type Unmarshaler interface {
	UnmarshalLla(Value) error
}

// NewValue marshals a Go value into a script value owned by this VM.
// Supported inputs: nil, booleans, numeric types, strings, errors,
// json.Number, slices, arrays, string-keyed maps, structs (exported
// fields), functions (wrapped as natives), and Marshaler implementations.
// The result stays rooted until Release.
func (vmc *VM) NewValue(val any) (Value, error) {
	ms := &marshalState{vmc: vmc}
	v, err := ms.marshal(val)
	if err != nil {
		ms.unpinAll()
		return Value{}, err
	}
	// keep the root, drop the intermediate pins
	vmc.core.Pin(v.v)
	ms.unpinAll()
	return v, nil
}

// MustNewValue marshals and panics on error (convenience for tests).
func (vmc *VM) MustNewValue(val any) Value {
	v, err := vmc.NewValue(val)
	if err != nil {
		panic(err)
	}
	return v
}

// marshalState pins every allocation it makes, so a collection triggered
// mid-build cannot reclaim a container's children before the container
// itself is reachable.
type marshalState struct {
	vmc  *VM
	pins []vm.Value
}

func (ms *marshalState) alloc(v vm.Value) Value {
	ms.vmc.core.Pin(v)
	ms.pins = append(ms.pins, v)
	return Value{v: v, owner: ms.vmc.core}
}

func (ms *marshalState) unpinAll() {
	for i := len(ms.pins) - 1; i >= 0; i-- {
		ms.vmc.core.Unpin(ms.pins[i])
	}
	ms.pins = nil
}

func (ms *marshalState) marshal(val any) (Value, error) {
	if m, ok := val.(Marshaler); ok {
		return m.MarshalLla(ms.vmc)
	}
	switch v := val.(type) {
	case Value:
		return v, nil
	case nil:
		return NilValue(), nil
	case bool:
		return BoolValue(v), nil
	case int:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case float64:
		return NumberValue(v), nil
	case string:
		return ms.alloc(ms.vmc.core.NewString(v)), nil
	case error:
		return ms.alloc(ms.vmc.core.NewString(v.Error())), nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(n), nil
	case []any:
		elems := make([]vm.Value, len(v))
		for i, el := range v {
			mv, err := ms.marshal(el)
			if err != nil {
				return Value{}, err
			}
			elems[i] = mv.v
		}
		return ms.alloc(ms.vmc.core.NewArray(elems)), nil
	case []Value:
		elems := make([]vm.Value, len(v))
		for i, el := range v {
			elems[i] = el.v
		}
		return ms.alloc(ms.vmc.core.NewArray(elems)), nil
	case map[string]any:
		fields := make(map[string]vm.Value, len(v))
		for k, el := range v {
			mv, err := ms.marshal(el)
			if err != nil {
				return Value{}, err
			}
			fields[k] = mv.v
		}
		return ms.alloc(ms.vmc.core.NewRecord(fields)), nil
	case HostFunc:
		return ms.alloc(ms.vmc.nativeValue("", -1, v)), nil
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32, uintptr:
		rv := reflect.ValueOf(val)
		if rv.CanInt() {
			return NumberValue(float64(rv.Int())), nil
		}
		if rv.CanUint() {
			return NumberValue(float64(rv.Uint())), nil
		}
		return NumberValue(rv.Float()), nil
	default:
		return ms.marshalReflect(reflect.ValueOf(val))
	}
}

func (ms *marshalState) marshalReflect(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return NilValue(), nil
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NilValue(), nil
		}
		return ms.marshal(rv.Elem().Interface())
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NumberValue(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return NumberValue(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return NumberValue(rv.Float()), nil
	case reflect.String:
		return ms.alloc(ms.vmc.core.NewString(rv.String())), nil
	case reflect.Slice, reflect.Array:
		elems := make([]vm.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			mv, err := ms.marshal(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			elems[i] = mv.v
		}
		return ms.alloc(ms.vmc.core.NewArray(elems)), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		fields := make(map[string]vm.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			mv, err := ms.marshal(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			fields[iter.Key().String()] = mv.v
		}
		return ms.alloc(ms.vmc.core.NewRecord(fields)), nil
	case reflect.Struct:
		rt := rv.Type()
		fields := make(map[string]vm.Value, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			mv, err := ms.marshal(rv.Field(i).Interface())
			if err != nil {
				return Value{}, err
			}
			fields[field.Name] = mv.v
		}
		return ms.alloc(ms.vmc.core.NewRecord(fields)), nil
	case reflect.Func:
		fn, arity, err := ms.vmc.hostFuncFromGo(rv)
		if err != nil {
			return Value{}, err
		}
		return ms.alloc(ms.vmc.nativeValue("", arity, fn)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

func (vmc *VM) nativeValue(name string, arity int, fn HostFunc) vm.Value {
	return vmc.core.NewNative(name, arity, func(core *vm.VM, args []vm.Value) (vm.Value, error) {
		wrapped := make([]Value, len(args))
		for i, a := range args {
			wrapped[i] = Value{v: a, owner: core}
		}
		res, err := fn(vmc, wrapped)
		if err != nil {
			return vm.Nil(), err
		}
		return res.v, nil
	})
}

// hostFuncFromGo wraps an arbitrary Go function. Arguments are converted
// positionally; results may be (T), (T, error), (error), or nothing.
func (vmc *VM) hostFuncFromGo(rv reflect.Value) (HostFunc, int, error) {
	rt := rv.Type()
	if rt.IsVariadic() {
		return nil, 0, errors.New("variadic functions are not supported")
	}
	if rt.NumOut() > 2 {
		return nil, 0, errors.New("too many return values (max 2)")
	}
	retValIndex := -1
	retErrIndex := -1
	switch rt.NumOut() {
	case 1:
		if rt.Out(0) == errorType {
			retErrIndex = 0
		} else {
			retValIndex = 0
		}
	case 2:
		if rt.Out(1) != errorType {
			return nil, 0, errors.New("second return value must be error")
		}
		retValIndex = 0
		retErrIndex = 1
	}

	arity := rt.NumIn()
	fn := func(host *VM, args []Value) (Value, error) {
		inputs := make([]reflect.Value, arity)
		for i := 0; i < arity; i++ {
			ptr := reflect.New(rt.In(i))
			if err := Unmarshal(args[i], ptr.Interface()); err != nil {
				return Value{}, fmt.Errorf("argument %d: %w", i, err)
			}
			inputs[i] = ptr.Elem()
		}
		results := rv.Call(inputs)
		if retErrIndex >= 0 && !results[retErrIndex].IsNil() {
			return Value{}, results[retErrIndex].Interface().(error)
		}
		if retValIndex >= 0 {
			return host.NewValue(results[retValIndex].Interface())
		}
		return NilValue(), nil
	}
	return fn, arity, nil
}

// Raw converts the value to a plain Go representation (nil, bool, float64,
// string, []any, map[string]any). Functions are not convertible.
func (v Value) Raw() (any, error) {
	switch v.Kind() {
	case ValueNil:
		return nil, nil
	case ValueBool:
		b, _ := v.Bool()
		return b, nil
	case ValueNumber:
		n, _ := v.Number()
		return n, nil
	case ValueString:
		s, _ := v.String()
		return s, nil
	case ValueArray:
		elems, _ := v.Array()
		out := make([]any, len(elems))
		for i, el := range elems {
			raw, err := el.Raw()
			if err != nil {
				return nil, err
			}
			out[i] = raw
		}
		return out, nil
	case ValueRecord:
		fields, _ := v.Record()
		out := make(map[string]any, len(fields))
		for k, el := range fields {
			raw, err := el.Raw()
			if err != nil {
				return nil, err
			}
			out[k] = raw
		}
		return out, nil
	default:
		return nil, errors.New("Raw() not supported on function values")
	}
}

// Unmarshal assigns a script value into a Go target using reflection.
// Supports primitives, slices, arrays, string-keyed maps, structs, and
// Unmarshaler implementations.
func Unmarshal(val Value, target any) error {
	if target == nil {
		return errors.New("nil target")
	}
	if u, ok := target.(Unmarshaler); ok {
		return u.UnmarshalLla(val)
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("target must be non-nil pointer")
	}
	return assignValue(val, rv.Elem())
}

func assignValue(src Value, dst reflect.Value) error {
	if !dst.CanSet() {
		return errors.New("cannot set target")
	}
	switch dst.Kind() {
	case reflect.Interface:
		raw, err := src.Raw()
		if err != nil {
			return err
		}
		if raw == nil {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		dst.Set(reflect.ValueOf(raw))
		return nil
	case reflect.Bool:
		b, ok := src.Bool()
		if !ok {
			return conversionError("boolean", src)
		}
		dst.SetBool(b)
		return nil
	case reflect.String:
		s, ok := src.String()
		if !ok {
			return conversionError("string", src)
		}
		dst.SetString(s)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := src.Number()
		if !ok {
			return conversionError("number", src)
		}
		dst.SetInt(int64(n))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := src.Number()
		if !ok {
			return conversionError("number", src)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		n, ok := src.Number()
		if !ok {
			return conversionError("number", src)
		}
		dst.SetFloat(n)
		return nil
	case reflect.Slice:
		elems, ok := src.Array()
		if !ok {
			return conversionError("array", src)
		}
		dst.Set(reflect.MakeSlice(dst.Type(), len(elems), len(elems)))
		for i, el := range elems {
			if err := assignValue(el, dst.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		elems, ok := src.Array()
		if !ok {
			return conversionError("array", src)
		}
		if len(elems) != dst.Len() {
			return fmt.Errorf("array length mismatch: have %d want %d", len(elems), dst.Len())
		}
		for i, el := range elems {
			if err := assignValue(el, dst.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		fields, ok := src.Record()
		if !ok {
			return conversionError("record", src)
		}
		if dst.Type().Key().Kind() != reflect.String {
			return errors.New("map keys must be string")
		}
		dst.Set(reflect.MakeMapWithSize(dst.Type(), len(fields)))
		for k, el := range fields {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := assignValue(el, elem); err != nil {
				return err
			}
			dst.SetMapIndex(reflect.ValueOf(k), elem)
		}
		return nil
	case reflect.Struct:
		fields, ok := src.Record()
		if !ok {
			return conversionError("record", src)
		}
		rt := dst.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			if el, exists := fields[field.Name]; exists {
				if err := assignValue(el, dst.Field(i)); err != nil {
					return err
				}
			}
		}
		return nil
	case reflect.Pointer:
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		ptr := reflect.New(dst.Type().Elem())
		if err := assignValue(src, ptr.Elem()); err != nil {
			return err
		}
		dst.Set(ptr)
		return nil
	default:
		return fmt.Errorf("unsupported unmarshal target kind %s", dst.Kind())
	}
}

func conversionError(want string, got Value) error {
	return fmt.Errorf("want %s, got %s", want, kindName(got.Kind()))
}
