package beacon

import "testing"

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateLoading:  "loading",
		StateHealthy:  "healthy",
		StateDegraded: "degraded",
		StateEmpty:    "empty",
		State(999):    "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestState_Values(t *testing.T) {
	if StateLoading != 0 || StateHealthy != 1 || StateDegraded != 2 || StateEmpty != 3 {
		t.Error("unexpected state ordering")
	}
}
