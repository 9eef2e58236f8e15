package recorder

type Status string

const (
	StatusNone      Status = "NONE"
	StatusRecording Status = "RECORDING"
	StatusPaused    Status = "PAUSED"
)

// StateMachine tracks the logical recording state. Failed transitions return
// false and leave the state unchanged. It is not safe for concurrent use.
type StateMachine struct {
	status Status
}

func NewStateMachine() *StateMachine {
	return &StateMachine{status: StatusNone}
}

func (m *StateMachine) Status() Status {
	return m.status
}

func (m *StateMachine) Start() bool {
	if m.status != StatusNone {
		return false
	}
	m.status = StatusRecording
	return true
}

func (m *StateMachine) Pause() bool {
	if m.status != StatusRecording {
		return false
	}
	m.status = StatusPaused
	return true
}

func (m *StateMachine) Resume() bool {
	if m.status != StatusPaused {
		return false
	}
	m.status = StatusRecording
	return true
}

func (m *StateMachine) Stop() bool {
	if m.status == StatusNone {
		return false
	}
	m.status = StatusNone
	return true
}
