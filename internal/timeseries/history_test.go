package timeseries

import (
	"reflect"
	"testing"
	"time"
)

func TestHistory_RecordAndRetain(t *testing.T) {
	h := NewHistory(newMockClock(time.Unix(0, 0)))

	if h.Get("in-a") != nil {
		t.Fatal("Get before Record should return nil")
	}

	h.Record("in-b", window(1, 0, -10))
	h.Record("in-a", window(0, 0, -12))
	h.Record("in-a", window(0, 2, -14))

	if got, want := h.IDs(), []string{"in-a", "in-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if n := h.Get("in-a").SampleCount(); n != 2 {
		t.Errorf("in-a SampleCount = %d, want 2", n)
	}

	h.Retain([]string{"in-a", "in-c"})

	if got, want := h.IDs(), []string{"in-a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() after Retain = %v, want %v", got, want)
	}
	if h.Get("in-b") != nil {
		t.Error("in-b should have been dropped")
	}
}

func TestHistory_NilClock(t *testing.T) {
	h := NewHistory(nil)
	h.Record("in", window(0, 0, -6))

	if h.Get("in") == nil {
		t.Fatal("tracker not created")
	}
}
