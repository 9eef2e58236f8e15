package capture

import (
	"context"

	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/audio"
)

// Watch applies interruptions from events until ctx is done or events is
// closed.
func (s *Session) Watch(ctx context.Context, events <-chan Interruption) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Interrupt(ev)
		}
	}
}

// Interrupt tears down or rebuilds the source for an OS interruption. The
// header flag and any buffered bytes survive, so a recovered run continues
// the same chunk stream.
func (s *Session) Interrupt(ev Interruption) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.metrics.Interrupted(ev.Type.String())

	switch ev.Type {
	case InterruptionBegan:
		s.suspend()
	case InterruptionEnded:
		if !ev.ShouldResume {
			s.log.Info("interruption ended without resume hint, staying suspended")
			return
		}
		s.reactivate()
	default:
		s.log.Warn("ignoring unknown interruption", zap.Int("type", int(ev.Type)))
	}
}

// suspend requires s.opMu.
func (s *Session) suspend() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Running {
		return
	}

	if err := s.src.Stop(); err != nil {
		s.log.Warn("stop source on interruption", zap.Error(err))
	}

	s.mu.Lock()
	s.state = Suspended
	s.streaming = false
	s.interruptions++
	s.mu.Unlock()
	s.log.Info("capture suspended by interruption")
}

// reactivate requires s.opMu.
func (s *Session) reactivate() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Suspended {
		return
	}

	if s.src.InputChannels() < 1 {
		s.log.Error("reactivate capture", zap.Error(ErrNoInputChannel))
		return
	}
	conv, err := audio.NewConverter(s.src.Format(), audio.TargetFormat)
	if err != nil {
		s.log.Error("reactivate capture", zap.Error(err))
		return
	}

	s.mu.Lock()
	old := s.conv
	s.conv = conv
	s.state = Running
	s.mu.Unlock()

	if err := s.src.Start(s.handleFrame); err != nil {
		s.mu.Lock()
		s.conv = old
		s.state = Suspended
		s.mu.Unlock()
		s.log.Error("reactivate capture, session stays suspended", zap.Error(err))
		return
	}
	old.Close()
	s.log.Info("capture resumed after interruption")
}
