package beacon

import "testing"

func TestFieldKeyNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{KeySelection.Field("a").Key().Name(), "selection"},
		{KeyPrevious.Field("a").Key().Name(), "previous"},
		{KeySource.Field("selection").Key().Name(), "source"},
		{KeySubscriber.Field("sub-1").Key().Name(), "subscriber"},
		{KeyDomain.Field("todos").Key().Name(), "domain"},
		{KeyVersion.Field(2).Key().Name(), "version"},
		{KeyState.Field("healthy").Key().Name(), "state"},
		{KeyOldState.Field("loading").Key().Name(), "old_state"},
		{KeyNewState.Field("healthy").Key().Name(), "new_state"},
		{KeyError.Field("boom").Key().Name(), "error"},
		{KeyDebounce.Field(DefaultDebounce).Key().Name(), "debounce"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected key %q, got %q", tt.want, tt.got)
		}
	}
}
