package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
)

type countingAdapter struct {
	calls atomic.Int64
	res   Result
	err   error
}

func (a *countingAdapter) Dispatch(ctx context.Context, req Request) (Result, error) {
	a.calls.Add(1)
	return a.res, a.err
}

func TestRegistryResolveDefault(t *testing.T) {
	r := NewRegistry()
	openclaw := &countingAdapter{}
	r.Register(DefaultID, openclaw)

	for _, id := range []string{"", "  ", "openclaw"} {
		a, resolved, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		if resolved != DefaultID {
			t.Fatalf("Resolve(%q) = %q, want %q", id, resolved, DefaultID)
		}
		if a != openclaw {
			t.Fatalf("Resolve(%q) returned wrong adapter", id)
		}
	}
}

func TestRegistryUnsupportedFailsFast(t *testing.T) {
	r := NewRegistry()
	openclaw := &countingAdapter{}
	r.Register(DefaultID, openclaw)

	_, _, err := r.Resolve("nano-claw")
	ue, ok := err.(*UnsupportedError)
	if !ok {
		t.Fatalf("want UnsupportedError, got %v", err)
	}
	if ue.ID != "nano-claw" {
		t.Fatalf("ID = %q", ue.ID)
	}
	if !strings.Contains(err.Error(), "openclaw") {
		t.Fatalf("error should list supported ids: %v", err)
	}
	if openclaw.calls.Load() != 0 {
		t.Fatal("unsupported runtime must not reach any adapter")
	}
}

func TestRuntimeIDFromPayload(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"runtimeId":"openclaw"}`, "openclaw"},
		{`{"runtimeId":"  nano-claw  "}`, "nano-claw"},
		{`{"runtimeId":""}`, ""},
		{`{}`, ""},
		{``, ""},
		{`not json`, ""},
	}
	for _, tc := range cases {
		if got := RuntimeIDFromPayload(json.RawMessage(tc.payload)); got != tc.want {
			t.Errorf("payload %q: got %q want %q", tc.payload, got, tc.want)
		}
	}
}
