package queue

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		input string
		want  Kind
		ok    bool
	}{
		{"check_in", KindCheckIn, true},
		{"  CHECK_OUT ", KindCheckOut, true},
		{"status_update", KindStatusUpdate, true},
		{"", "", false},
		{"teleport", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseKind(tc.input)
		if ok != tc.ok {
			t.Fatalf("ParseKind(%q) ok = %v, want %v", tc.input, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseKind(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus(" Failed "); !ok || status != StatusFailed {
		t.Fatalf("ParseStatus failed: got %q ok=%v", status, ok)
	}
	if _, ok := ParseStatus("stalled"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestEligibleRespectsRetryBudget(t *testing.T) {
	m := Mutation{Status: StatusPending, MaxRetries: 3}
	if !m.Eligible() {
		t.Fatal("pending mutation should be eligible")
	}

	m.SetFailed("backend rejected")
	if !m.Eligible() {
		t.Fatal("failed mutation under budget should remain eligible")
	}
	if m.RetryCount != 1 || m.ErrorMessage != "backend rejected" {
		t.Fatalf("SetFailed bookkeeping wrong: %+v", m)
	}

	m.SetFailed("again")
	m.SetFailed("again")
	if m.Eligible() {
		t.Fatal("exhausted mutation must not be eligible")
	}
	if !m.Exhausted() {
		t.Fatal("expected Exhausted after max retries")
	}

	m.Status = StatusProcessing
	if m.Eligible() {
		t.Fatal("processing mutation must not be eligible")
	}
}
