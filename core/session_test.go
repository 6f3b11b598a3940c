package core

import "testing"

func TestSessionUpdateWhileAlive(t *testing.T) {
	session := NewRemixSession("session-1")

	if !session.Alive() {
		t.Fatal("new session should be alive")
	}

	ok := session.Update(func(s *RemixState) {
		s.BackgroundPrompt = "a beach at sunset"
	})
	if !ok {
		t.Fatal("Update() = false on live session, want true")
	}
	if session.State().BackgroundPrompt != "a beach at sunset" {
		t.Error("state mutation was not applied")
	}
}

func TestSessionTeardownDiscardsWrites(t *testing.T) {
	session := NewRemixSession("session-1")
	session.Update(func(s *RemixState) { s.BackgroundPrompt = "before" })

	session.Teardown()

	if session.Alive() {
		t.Error("Alive() = true after Teardown")
	}

	called := false
	if ok := session.Update(func(s *RemixState) { called = true }); ok {
		t.Error("Update() = true on torn-down session, want false")
	}
	if called {
		t.Error("mutation ran on torn-down session")
	}
	if session.State().BackgroundPrompt != "before" {
		t.Error("state changed after teardown")
	}

	if session.SetPhase(PhaseRunning) {
		t.Error("SetPhase() = true on torn-down session, want false")
	}
}

func TestSessionPhaseTransitions(t *testing.T) {
	session := NewRemixSession("session-1")

	if session.Phase() != PhaseIdle {
		t.Errorf("initial phase = %s, want %s", session.Phase(), PhaseIdle)
	}

	for _, phase := range []RunPhase{PhaseSegmenting, PhaseAwaitingUserInput, PhaseDispatched, PhaseRunning, PhaseCompleted} {
		if !session.SetPhase(phase) {
			t.Fatalf("SetPhase(%s) = false", phase)
		}
		if session.Phase() != phase {
			t.Errorf("Phase() = %s, want %s", session.Phase(), phase)
		}
	}
}
