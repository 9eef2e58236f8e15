package recorder

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		op     func(*StateMachine) bool
		ok     bool
		expect Status
	}{
		{"start from none", StatusNone, (*StateMachine).Start, true, StatusRecording},
		{"start while recording", StatusRecording, (*StateMachine).Start, false, StatusRecording},
		{"start while paused", StatusPaused, (*StateMachine).Start, false, StatusPaused},
		{"pause while recording", StatusRecording, (*StateMachine).Pause, true, StatusPaused},
		{"pause from none", StatusNone, (*StateMachine).Pause, false, StatusNone},
		{"pause while paused", StatusPaused, (*StateMachine).Pause, false, StatusPaused},
		{"resume while paused", StatusPaused, (*StateMachine).Resume, true, StatusRecording},
		{"resume from none", StatusNone, (*StateMachine).Resume, false, StatusNone},
		{"resume while recording", StatusRecording, (*StateMachine).Resume, false, StatusRecording},
		{"stop while recording", StatusRecording, (*StateMachine).Stop, true, StatusNone},
		{"stop while paused", StatusPaused, (*StateMachine).Stop, true, StatusNone},
		{"stop from none", StatusNone, (*StateMachine).Stop, false, StatusNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &StateMachine{status: tt.from}
			if got := tt.op(m); got != tt.ok {
				t.Fatalf("expected %v, got %v", tt.ok, got)
			}
			if m.Status() != tt.expect {
				t.Fatalf("expected status %s, got %s", tt.expect, m.Status())
			}
		})
	}
}

func TestNewStateMachineStartsAtNone(t *testing.T) {
	if got := NewStateMachine().Status(); got != StatusNone {
		t.Fatalf("expected NONE, got %s", got)
	}
}
