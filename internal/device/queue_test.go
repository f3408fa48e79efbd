package device

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestSubmissionOrder(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := q.Submit("step", func() error {
			got = append(got, i)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d executed at position %d", v, i)
		}
	}
}

func TestFirstFaultLatchesAndDropsLaterWork(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	boom := errors.New("boom")
	var ran atomic.Int32
	q.Submit("ok", func() error { ran.Add(1); return nil })
	q.Submit("bad", func() error { return boom })
	q.Submit("late", func() error { ran.Add(1); return nil })
	q.Submit("later", func() error { return errors.New("second fault") })

	err := q.Finish()
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("finish returned %v, want *Error", err)
	}
	if de.Kernel != "bad" || !errors.Is(err, boom) {
		t.Fatalf("fault = %v, want the first failure", de)
	}
	if n := ran.Load(); n != 1 {
		t.Fatalf("%d tasks ran, want only the one before the fault", n)
	}
	// The fault stays latched.
	if err := q.Err(); !errors.Is(err, boom) {
		t.Fatalf("latched error = %v", err)
	}
}

func TestPanicBecomesFault(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	q.Submit("panicky", func() error { panic("index out of range") })
	err := q.Finish()
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("finish returned %v, want *Error", err)
	}
	if de.Kernel != "panicky" {
		t.Fatalf("fault kernel = %q", de.Kernel)
	}
}

func TestFinishOnIdleQueue(t *testing.T) {
	q := NewQueue(4)
	defer q.Close()
	if err := q.Finish(); err != nil {
		t.Fatalf("finish on idle queue: %v", err)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	q := NewQueue(0)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Submit("late", func() error { return nil }); err == nil {
		t.Fatal("submit accepted after close")
	}
	// Closing again is harmless.
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
