package gateway

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	steps := []struct{ from, to State }{
		{Idle, Enqueuing},
		{Enqueuing, InQueue},
		{InQueue, InLoading},
		{InLoading, Completed},
	}
	for _, s := range steps {
		if !canTransition(s.from, s.to) {
			t.Errorf("expected %s -> %s to be legal", s.from, s.to)
		}
	}
}

func TestCanTransitionAnyToDisconnecting(t *testing.T) {
	for _, s := range []State{Idle, Enqueuing, InQueue, InLoading, Completed, Error} {
		if !canTransition(s, Disconnecting) {
			t.Errorf("expected %s -> Disconnecting to be legal", s)
		}
	}
}

func TestCanTransitionErrorRecovery(t *testing.T) {
	if !canTransition(Error, Enqueuing) {
		t.Error("expected Error -> Enqueuing to be legal")
	}
	if canTransition(Error, InQueue) {
		t.Error("expected Error -> InQueue to be illegal")
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	illegal := []struct{ from, to State }{
		{Idle, InQueue},
		{InQueue, Completed},
		{Completed, InLoading},
		{InLoading, Enqueuing},
	}
	for _, s := range illegal {
		if canTransition(s.from, s.to) {
			t.Errorf("expected %s -> %s to be illegal", s.from, s.to)
		}
	}
}
