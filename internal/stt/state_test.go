package stt

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateConfigured, true},
		{StateConfigured, StateStreaming, true},
		{StateStreaming, StateClosed, true},
		{StateConnecting, StateErrored, true},
		{StateConfigured, StateErrored, true},
		{StateStreaming, StateErrored, true},
		{StateConnecting, StateStreaming, false},
		{StateStreaming, StateConfigured, false},
		{StateClosed, StateStreaming, false},
		{StateErrored, StateStreaming, false},
		{StateErrored, StateClosed, false},
		{StateClosed, StateErrored, false},
	}

	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateMachine_Transition(t *testing.T) {
	var m stateMachine

	if m.State() != StateConnecting {
		t.Fatalf("Expected initial state connecting, got %s", m.State())
	}
	if err := m.transition(StateStreaming); err == nil {
		t.Error("Expected error skipping configured")
	}
	if err := m.transition(StateConfigured); err != nil {
		t.Fatalf("transition to configured failed: %v", err)
	}
	if err := m.transition(StateConfigured); err != nil {
		t.Errorf("Expected same-state transition to be a no-op, got %v", err)
	}
	if err := m.transition(StateErrored); err != nil {
		t.Fatalf("transition to errored failed: %v", err)
	}
	if err := m.transition(StateClosed); err == nil {
		t.Error("Expected errored to be absorbing")
	}
	if m.State() != StateErrored {
		t.Errorf("Expected errored, got %s", m.State())
	}
}

func TestContainsBoundary(t *testing.T) {
	if ContainsBoundary([]Token{{Text: "a"}, {Text: "b"}}) {
		t.Error("Expected no boundary in plain tokens")
	}
	if !ContainsBoundary([]Token{{Text: "a"}, {Text: EndMarker}}) {
		t.Error("Expected <end> to be a boundary")
	}
	if !ContainsBoundary([]Token{{Text: FinalizeMarker}}) {
		t.Error("Expected <fin> to be a boundary")
	}
	if ContainsBoundary(nil) {
		t.Error("Expected empty batch to have no boundary")
	}
}
