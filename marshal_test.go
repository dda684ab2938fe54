package lla

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

type testPoint struct {
	X float64
	Y float64
}

type testBox struct {
	Label  string
	Point  testPoint
	Tags   []string
	hidden int
}

type testWrapped struct{ V string }

func (w testWrapped) MarshalLla(vmc *VM) (Value, error) {
	return vmc.NewValue(map[string]any{"v": w.V})
}

type testUnwrapped struct{ V string }

func (u *testUnwrapped) UnmarshalLla(v Value) error {
	fields, ok := v.Record()
	if !ok {
		return fmt.Errorf("expected record")
	}
	s, ok := fields["v"].String()
	if !ok {
		return fmt.Errorf("missing v")
	}
	u.V = s
	return nil
}

func TestMarshalPrimitives(t *testing.T) {
	machine := NewVM()
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{true, true},
		{42, 42.0},
		{int64(7), 7.0},
		{3.5, 3.5},
		{uint8(9), 9.0},
		{"hello", "hello"},
		{errors.New("oops"), "oops"},
	}
	for _, tc := range cases {
		v, err := machine.NewValue(tc.in)
		if err != nil {
			t.Fatalf("%#v: marshal error: %v", tc.in, err)
		}
		raw, err := v.Raw()
		if err != nil {
			t.Fatalf("%#v: raw error: %v", tc.in, err)
		}
		if !reflect.DeepEqual(raw, tc.want) {
			t.Fatalf("%#v: expected %#v, got %#v", tc.in, tc.want, raw)
		}
	}
}

func TestMarshalContainers(t *testing.T) {
	machine := NewVM()
	in := map[string]any{
		"nums":  []any{1.0, 2.0},
		"inner": map[string]any{"ok": true},
	}
	v, err := machine.NewValue(in)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	raw, err := v.Raw()
	if err != nil {
		t.Fatalf("raw error: %v", err)
	}
	if !reflect.DeepEqual(raw, in) {
		t.Fatalf("expected %#v, got %#v", in, raw)
	}
}

func TestMarshalStruct(t *testing.T) {
	machine := NewVM()
	v, err := machine.NewValue(testBox{
		Label:  "b",
		Point:  testPoint{X: 1, Y: 2},
		Tags:   []string{"x", "y"},
		hidden: 9,
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	fields, ok := v.Record()
	if !ok {
		t.Fatalf("expected record, got %s", v.Display())
	}
	if _, exists := fields["hidden"]; exists {
		t.Fatalf("unexported field leaked into record")
	}
	machine.DefineGlobal("box", v)
	res, err := machine.ExecuteSource("test", `box.Point.X + box.Point.Y`)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	wantNumberValue(t, res, 3)
}

func TestMarshalGoFunction(t *testing.T) {
	machine := NewVM()
	v, err := machine.NewValue(func(a, b float64) float64 { return a * b })
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	machine.DefineGlobal("mul", v)
	res, err := machine.ExecuteSource("test", "mul(6, 7)")
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	wantNumberValue(t, res, 42)
}

func TestMarshalGoFunctionError(t *testing.T) {
	machine := NewVM()
	v, err := machine.NewValue(func(n float64) (float64, error) {
		if n < 0 {
			return 0, errors.New("negative input")
		}
		return n, nil
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	machine.DefineGlobal("check", v)
	_, err = machine.ExecuteSource("test", "check(-1)")
	var rte *RuntimeError
	if !errors.As(err, &rte) || rte.Kind != ErrNativeError {
		t.Fatalf("expected native error, got %v", err)
	}
	if !strings.Contains(rte.Message, "negative input") {
		t.Fatalf("unexpected message: %q", rte.Message)
	}
}

func TestMarshalGoFunctionArity(t *testing.T) {
	machine := NewVM()
	v, err := machine.NewValue(func(a, b float64) float64 { return a + b })
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	machine.DefineGlobal("add", v)
	_, err = machine.ExecuteSource("test", "add(1)")
	var rte *RuntimeError
	if !errors.As(err, &rte) || rte.Kind != ErrArityError {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestMarshalCustomMarshaler(t *testing.T) {
	machine := NewVM()
	v, err := machine.NewValue(testWrapped{V: "inside"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	fields, ok := v.Record()
	if !ok {
		t.Fatalf("expected record, got %s", v.Display())
	}
	s, ok := fields["v"].String()
	if !ok || s != "inside" {
		t.Fatalf("unexpected field: %s", fields["v"].Display())
	}
}

func TestMarshalUnsupported(t *testing.T) {
	machine := NewVM()
	if _, err := machine.NewValue(map[int]string{1: "x"}); err == nil {
		t.Fatalf("expected error for non-string map keys")
	}
	if _, err := machine.NewValue(func(xs ...int) {}); err == nil {
		t.Fatalf("expected error for variadic function")
	}
	if _, err := machine.NewValue(make(chan int)); err == nil {
		t.Fatalf("expected error for channel")
	}
}

func TestUnmarshalStruct(t *testing.T) {
	machine := NewVM()
	val, err := machine.ExecuteSource("test", `let r = {Label: "hi", Point: {X: 1, Y: 2}, Tags: ["a", "b"]}
r`)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	var box testBox
	if err := Unmarshal(val, &box); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if box.Label != "hi" || box.Point.X != 1 || box.Point.Y != 2 {
		t.Fatalf("unexpected box: %+v", box)
	}
	if !reflect.DeepEqual(box.Tags, []string{"a", "b"}) {
		t.Fatalf("unexpected tags: %v", box.Tags)
	}
}

func TestUnmarshalPrimitivesAndErrors(t *testing.T) {
	machine := NewVM()
	val, err := machine.ExecuteSource("test", "41 + 1")
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	var n int
	if err := Unmarshal(val, &n); err != nil || n != 42 {
		t.Fatalf("unmarshal int: %v (n=%d)", err, n)
	}
	var s string
	if err := Unmarshal(val, &s); err == nil {
		t.Fatalf("expected mismatch error for string target")
	}
	if err := Unmarshal(val, nil); err == nil {
		t.Fatalf("expected error for nil target")
	}
	if err := Unmarshal(val, n); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
}

func TestUnmarshalCustomUnmarshaler(t *testing.T) {
	machine := NewVM()
	val, err := machine.ExecuteSource("test", `let r = {v: "custom"}
r`)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	var u testUnwrapped
	if err := Unmarshal(val, &u); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if u.V != "custom" {
		t.Fatalf("expected custom, got %q", u.V)
	}
}

func TestUnmarshalInterface(t *testing.T) {
	machine := NewVM()
	val, err := machine.ExecuteSource("test", `[1, "a", nil]`)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	var out any
	if err := Unmarshal(val, &out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	want := []any{1.0, "a", nil}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("expected %#v, got %#v", want, out)
	}
}
