package tensor

import (
	"math"
	"testing"
)

func TestDescCheck(t *testing.T) {
	cases := []struct {
		name string
		desc Desc
		ok   bool
	}{
		{"vector", NewDesc(F32, 8), true},
		{"matrix", NewDesc(F16, 4, 2), true},
		{"invalid dtype", NewDesc(DTypeInvalid, 4), false},
		{"no dims", Desc{DType: F32}, false},
		{"zero dim", NewDesc(F32, 4, 0), false},
		{"negative dim", NewDesc(F32, -1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.desc.Check()
			if (err == nil) != tc.ok {
				t.Fatalf("Check() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestDescDimBeyondShape(t *testing.T) {
	d := NewDesc(F32, 8)
	if d.Dim(0) != 8 || d.Dim(1) != 1 || d.Dim(5) != 1 {
		t.Fatalf("Dim = %d,%d,%d", d.Dim(0), d.Dim(1), d.Dim(5))
	}
}

func TestDescSizes(t *testing.T) {
	d := NewDesc(F16, 3, 4)
	if n := d.NumElements(); n != 12 {
		t.Fatalf("NumElements = %d", n)
	}
	if b := d.ByteSize(); b != 24 {
		t.Fatalf("ByteSize = %d", b)
	}
	if s := d.String(); s != "[3,4]f16" {
		t.Fatalf("String = %q", s)
	}
}

func TestDescCloneIsDeep(t *testing.T) {
	d := NewDesc(F32, 2, 3)
	c := d.Clone()
	c.Shape[0] = 99
	if d.Shape[0] != 2 {
		t.Fatal("Clone shares the shape slice")
	}
}

func TestParseDType(t *testing.T) {
	for name, want := range map[string]DType{
		"f32": F32, "float32": F32, "fp16": F16, "bf16": BF16, "bfloat16": BF16,
	} {
		if got, ok := ParseDType(name); !ok || got != want {
			t.Errorf("ParseDType(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseDType("i8"); ok {
		t.Error("ParseDType accepted an unknown name")
	}
}

func TestF16RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 65504, 6.1035156e-05, 1e-7}
	for _, v := range values {
		bits := F32ToF16Bits(v)
		back := F16BitsToF32(bits)
		rel := math.Abs(float64(back-v)) / math.Max(math.Abs(float64(v)), 1e-30)
		if v != 0 && rel > 1e-3 && math.Abs(float64(back-v)) > 1e-7 {
			t.Errorf("f16 roundtrip %v -> %v", v, back)
		}
	}
	if got := F16BitsToF32(F32ToF16Bits(1e6)); !math.IsInf(float64(got), 1) {
		t.Errorf("f16 overflow encoded as %v, want +inf", got)
	}
}

func TestBF16RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -2.5, 3.14159, 1e30} {
		back := BF16BitsToF32(F32ToBF16Bits(v))
		rel := math.Abs(float64(back-v)) / math.Max(math.Abs(float64(v)), 1e-30)
		if v != 0 && rel > 1.0/128 {
			t.Errorf("bf16 roundtrip %v -> %v", v, back)
		}
	}
}

func TestTensorElementAccess(t *testing.T) {
	for _, dt := range []DType{F32, F16, BF16} {
		t.Run(dt.String(), func(t *testing.T) {
			tt, err := New(NewDesc(dt, 4, 2))
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			for i := 0; i < 8; i++ {
				tt.SetF32At(i, float32(i)*0.25)
			}
			for i := 0; i < 8; i++ {
				want := float32(i) * 0.25
				if got := tt.F32At(i); math.Abs(float64(got-want)) > 1e-2 {
					t.Fatalf("element %d = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestFromF32RejectsCountMismatch(t *testing.T) {
	if _, err := FromF32(NewDesc(F32, 4), []float32{1, 2}); err == nil {
		t.Fatal("short value slice accepted")
	}
}

func TestBindRequiresExactSize(t *testing.T) {
	tt, err := NewUnbound(NewDesc(F32, 4))
	if err != nil {
		t.Fatalf("new unbound: %v", err)
	}
	if tt.Bound() {
		t.Fatal("unbound tensor reports storage")
	}
	if err := tt.Bind(make([]byte, 15)); err == nil {
		t.Fatal("short buffer accepted")
	}
	if err := tt.Bind(make([]byte, 16)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !tt.Bound() {
		t.Fatal("tensor not bound")
	}
	tt.Unbind()
	if tt.Bound() {
		t.Fatal("tensor still bound after Unbind")
	}
}

func TestFillRandReproducible(t *testing.T) {
	a, _ := New(NewDesc(F32, 32))
	b, _ := New(NewDesc(F32, 32))
	FillRand(a, 7)
	FillRand(b, 7)
	av, bv := a.F32s(), b.F32s()
	for i := range av {
		if av[i] != bv[i] {
			t.Fatalf("element %d differs for identical seeds", i)
		}
		if av[i] < -0.1 || av[i] > 0.1 {
			t.Fatalf("element %d = %v outside fill range", i, av[i])
		}
	}
}

func TestAllocators(t *testing.T) {
	for _, tc := range []struct {
		name  string
		alloc Allocator
	}{
		{"heap", HeapAllocator()},
		{"mmap", MmapAllocator()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := tc.alloc.Alloc(1 << 12)
			if err != nil {
				t.Fatalf("alloc: %v", err)
			}
			if len(buf) != 1<<12 {
				t.Fatalf("alloc returned %d bytes", len(buf))
			}
			for i := range buf {
				if buf[i] != 0 {
					t.Fatalf("byte %d not zeroed", i)
				}
			}
			buf[0], buf[len(buf)-1] = 1, 2
			if err := tc.alloc.Free(buf); err != nil {
				t.Fatalf("free: %v", err)
			}
		})
	}
}

func TestMmapAllocatorTensor(t *testing.T) {
	tt, err := NewWith(MmapAllocator(), NewDesc(F32, 64, 4))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tt.Fill(1.25)
	for i, v := range tt.F32s() {
		if v != 1.25 {
			t.Fatalf("element %d = %v", i, v)
		}
	}
}
