package core

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func init() {
	SetLogOutput(io.Discard)
}

type fakeObject struct {
	destroyed int
}

func (f *fakeObject) Destroy() { f.destroyed++ }

func TestOwnedRelease(t *testing.T) {
	reg := NewRegistry()
	obj := &fakeObject{}
	o := Own(reg, "recorder", "allocator", obj)

	if got := reg.Outstanding(); len(got) != 1 || got[0].Owner != "recorder" || got[0].Kind != "allocator" {
		t.Fatalf("Outstanding = %v, want one recorder/allocator handle", got)
	}
	if o.Get() != obj {
		t.Fatal("Get returned a different object")
	}
	if err := o.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if obj.destroyed != 1 {
		t.Errorf("destroyed %d times, want 1", obj.destroyed)
	}
	if err := o.Release(); err == nil {
		t.Error("second Release should fail")
	}
	if obj.destroyed != 1 {
		t.Errorf("second Release destroyed the object again")
	}
	if got := reg.Outstanding(); len(got) != 0 {
		t.Errorf("Outstanding after release = %v", got)
	}
}

func TestRegistryOutstandingExclude(t *testing.T) {
	reg := NewRegistry()
	reg.Acquire("device", "queue")
	reg.Acquire("surface", "swapchain")
	reg.Acquire("recorder", "list")

	got := reg.Outstanding("device")
	if len(got) != 2 {
		t.Fatalf("Outstanding(device) = %v, want 2 handles", got)
	}
	if got[0].Owner != "recorder" || got[1].Owner != "surface" {
		t.Errorf("Outstanding not sorted by owner: %v", got)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("close: %w", ErrRecording), false},
		{fmt.Errorf("present: %w", ErrPresentLost), true},
		{ErrDeviceLost, true},
		{ErrNoSuitableAdapter, true},
		{errors.New("other"), true},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var order []string

	first := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "first")
		return false
	}
	second := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, fmt.Sprintf("second:%d", data.Data.U32[0]))
		return true
	}
	third := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "third")
		return true
	}

	if !bus.Register(EVENT_CODE_RESIZED, "a", first) {
		t.Fatal("Register a failed")
	}
	if bus.Register(EVENT_CODE_RESIZED, "a", first) {
		t.Fatal("duplicate Register should fail")
	}
	bus.Register(EVENT_CODE_RESIZED, "b", second)
	bus.Register(EVENT_CODE_RESIZED, "c", third)

	ctx := EventContext{}
	ctx.Data.U32[0] = 800
	if !bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Fatal("Fire should report handled")
	}
	want := []string{"first", "second:800"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}

	if !bus.Unregister(EVENT_CODE_RESIZED, "b") {
		t.Fatal("Unregister b failed")
	}
	order = nil
	bus.Fire(EVENT_CODE_RESIZED, nil, ctx)
	if fmt.Sprint(order) != fmt.Sprint([]string{"first", "third"}) {
		t.Errorf("after unregister order = %v", order)
	}

	if bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}) {
		t.Error("Fire without listeners should not be handled")
	}
}

func TestMetricsFPS(t *testing.T) {
	m := NewMetrics()
	published := false
	for i := 0; i < 61; i++ {
		if m.Update(1.0 / 60.0) {
			published = true
		}
	}
	if !published {
		t.Fatal("no FPS value published after more than one second of frames")
	}
	if fps := m.FPS(); fps < 59 || fps > 61 {
		t.Errorf("FPS = %v, want about 60", fps)
	}
	if ft := m.FrameTime(); ft < 16 || ft > 17 {
		t.Errorf("FrameTime = %v ms, want about 16.7", ft)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{" warn ", WarnLevel, false},
		{"verbose", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
