package campaign

import (
	"testing"

	"voxcampaign/internal/store"
)

func TestWithinCallingWindow_Unrestricted(t *testing.T) {
	if !withinCallingWindow(store.CallingWindow{}) {
		t.Fatalf("expected a zero-value window to mean no restriction")
	}
}

func TestWithinCallingWindow_Ordinary(t *testing.T) {
	w := store.CallingWindow{StartHour: 9, EndHour: 17}

	cases := []struct {
		hour int
		want bool
	}{
		{8, false},
		{9, true},
		{12, true},
		{16, true},
		{17, false},
		{20, false},
	}
	for _, c := range cases {
		got := hourWithin(w, c.hour)
		if got != c.want {
			t.Errorf("hour %d: got %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestWithinCallingWindow_WrapsPastMidnight(t *testing.T) {
	w := store.CallingWindow{StartHour: 22, EndHour: 6}

	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{2, true},
		{6, false},
		{12, false},
		{21, false},
	}
	for _, c := range cases {
		got := hourWithin(w, c.hour)
		if got != c.want {
			t.Errorf("hour %d: got %v, want %v", c.hour, got, c.want)
		}
	}
}
