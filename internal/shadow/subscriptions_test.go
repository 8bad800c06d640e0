package shadow

import "testing"

func TestSubscriptionRegistryAdd(t *testing.T) {
	r := NewSubscriptionRegistry()

	if !r.Add("7_0") {
		t.Error("first Add = false, want true")
	}
	if r.Add("7_0") {
		t.Error("repeat Add = true, want false")
	}
	if !r.Has("7_0") {
		t.Error("Has = false after Add")
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestSubscriptionRegistryResetForgetsShards(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.Add("7_0")
	r.Add("7_1")

	r.Reset()

	if got := r.Len(); got != 0 {
		t.Errorf("Len after Reset = %d, want 0", got)
	}
	// A fresh session re-registers and re-subscribes.
	if !r.Add("7_0") {
		t.Error("Add after Reset = false, want true")
	}
}
