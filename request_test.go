package beacon

import "testing"

func TestRequest_Changed(t *testing.T) {
	tests := []struct {
		name     string
		previous Choice
		current  Choice
		want     bool
	}{
		{"same id", Some("a"), Some("a"), false},
		{"different id", Some("a"), Some("b"), true},
		{"none to some", None(), Some("a"), true},
		{"some to none", Some("a"), None(), true},
		{"none to none", None(), None(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Previous: tt.previous, Current: tt.current}
			if got := req.Changed(); got != tt.want {
				t.Errorf("Changed() = %v, want %v", got, tt.want)
			}
		})
	}
}
