package types

import "testing"

func TestWorkerType(t *testing.T) {
	for _, wt := range AllWorkerTypes() {
		if !wt.Valid() {
			t.Errorf("%s should be valid", wt)
		}
	}
	if WorkerType("thumbnail").Valid() {
		t.Errorf("unknown type should not be valid")
	}
	if WorkerTypeFileProcessing.String() != "fileProcessing" {
		t.Errorf("unexpected wire name %q", WorkerTypeFileProcessing.String())
	}
}

func TestPriority(t *testing.T) {
	var zero Priority
	if zero != PriorityNormal {
		t.Errorf("zero priority should be normal, got %s", zero)
	}
	if !(PriorityHigh > PriorityNormal && PriorityNormal > PriorityLow) {
		t.Errorf("priorities must order high > normal > low")
	}

	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{"urgent", PriorityNormal, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if !tt.wantErr && tt.in != "" && got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestWorkerStateString(t *testing.T) {
	states := map[WorkerState]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateHealthy:       "healthy",
		StateBusy:          "busy",
		StateUnhealthy:     "unhealthy",
		StateTerminated:    "terminated",
		WorkerState(99):    "unknown",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("String() = %q, want %q", state.String(), want)
		}
	}
}
