package hal

import "testing"

func TestFeatureLevelString(t *testing.T) {
	tests := []struct {
		level FeatureLevel
		want  string
	}{
		{FeatureLevel11_0, "11_0"},
		{FeatureLevel11_1, "11_1"},
		{FeatureLevel12_0, "12_0"},
		{FeatureLevel12_1, "12_1"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("%#x.String() = %q, want %q", uint32(tt.level), got, tt.want)
		}
	}
	if !(FeatureLevel12_0 > FeatureLevel11_1) {
		t.Error("feature levels must order by capability")
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatR32G32B32Float.Size() + FormatR32G32B32A32Float.Size(); got != 28 {
		t.Errorf("position+colour = %d bytes, want 28", got)
	}
	if FormatR8G8B8A8Unorm.Size() != 4 || FormatUnknown.Size() != 0 {
		t.Error("unexpected format sizes")
	}
}

func TestResourceStateString(t *testing.T) {
	if ResourceStatePresent.String() != "PRESENT" || ResourceStateRenderTarget.String() != "RENDER_TARGET" {
		t.Error("unexpected state names")
	}
	if got := ResourceState(0x10).String(); got != "STATE(0x10)" {
		t.Errorf("unknown state = %q", got)
	}
}
