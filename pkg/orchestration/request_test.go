package orchestration

import "testing"

func TestRequestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from RequestStatus
		to   RequestStatus
		want bool
	}{
		{RequestPending, RequestProcessing, true},
		{RequestPending, RequestCompleted, false},
		{RequestPending, RequestFailed, false},
		{RequestProcessing, RequestCompleted, true},
		{RequestProcessing, RequestFailed, true},
		{RequestProcessing, RequestPending, false},
		{RequestCompleted, RequestProcessing, false},
		{RequestFailed, RequestProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s->%s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
