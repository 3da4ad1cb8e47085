package registry

import (
	"testing"
	"time"

	"github.com/alxayo/webmrelay/internal/broadcast"
	relerrors "github.com/alxayo/webmrelay/internal/errors"
)

func shortWindowRegistry() *Registry {
	return New(Config{ReapWindow: 30 * time.Millisecond})
}

func TestClaimCreatesNewBroadcast(t *testing.T) {
	r := shortWindowRegistry()
	b, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b == nil || b.Name() != "alpha" {
		t.Fatalf("expected a Broadcast named alpha, got %v", b)
	}
	got, ok := r.Get("alpha")
	if !ok || got != b {
		t.Fatalf("expected Get to return the claimed broadcast")
	}
}

func TestClaimRejectsSecondPublisherWhileLive(t *testing.T) {
	r := shortWindowRegistry()
	if _, err := r.Claim("alpha"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Claim("alpha")
	if err == nil {
		t.Fatalf("expected NameInUse for a second concurrent publisher")
	}
	if !relerrors.IsNameInUse(err) {
		t.Fatalf("expected NameInUse, got %v", err)
	}
}

func TestReconnectWithinReapWindowResumesSameBroadcast(t *testing.T) {
	r := shortWindowRegistry()
	first, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Release("alpha")

	second, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error on reconnect: %v", err)
	}
	if second != first {
		t.Fatalf("expected reconnect within reap window to resume the same Broadcast")
	}
	if first.Stopped() {
		t.Fatalf("expected broadcast to survive a cancelled reap")
	}
}

func TestReapStopsBroadcastAndRemovesEntry(t *testing.T) {
	r := shortWindowRegistry()
	b, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Release("alpha")

	select {
	case <-b.WaitStopped():
	case <-time.After(time.Second):
		t.Fatalf("expected broadcast to be reaped and stopped")
	}
	if _, ok := r.Get("alpha"); ok {
		t.Fatalf("expected reaped stream removed from registry")
	}
}

func TestReconnectAfterReapIsTreatedAsNewSession(t *testing.T) {
	r := shortWindowRegistry()
	first, _ := r.Claim("alpha")
	r.Release("alpha")

	select {
	case <-first.WaitStopped():
	case <-time.After(time.Second):
		t.Fatalf("expected first broadcast to be reaped")
	}

	second, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == first {
		t.Fatalf("expected a new Broadcast after the reap window elapsed")
	}
}

func TestReleaseOnUnknownNameIsNoOp(t *testing.T) {
	r := shortWindowRegistry()
	r.Release("never-claimed") // must not panic
}

func TestAbortRemovesEntryImmediatelyWithoutReapWindow(t *testing.T) {
	r := shortWindowRegistry()
	b, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Abort("alpha")

	if _, ok := r.Get("alpha"); ok {
		t.Fatalf("expected aborted stream immediately removed from registry")
	}
	select {
	case <-b.WaitStopped():
	case <-time.After(time.Second):
		t.Fatalf("expected aborted broadcast to be stopped")
	}

	// A fresh publisher should be able to claim the name right away, not
	// wait out a reap window.
	if _, err := r.Claim("alpha"); err != nil {
		t.Fatalf("expected immediate reclaim after abort, got %v", err)
	}
}

func TestAbortOnUnknownNameIsNoOp(t *testing.T) {
	r := shortWindowRegistry()
	r.Abort("never-claimed") // must not panic
}

func TestStopAllStopsEveryBroadcastAndClearsRegistry(t *testing.T) {
	r := shortWindowRegistry()
	alpha, err := r.Claim("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	beta, err := r.Claim("beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Release("beta") // leave beta with a pending reap timer

	r.StopAll()

	for _, b := range []*broadcast.Broadcast{alpha, beta} {
		select {
		case <-b.WaitStopped():
		case <-time.After(time.Second):
			t.Fatalf("expected broadcast stopped by StopAll")
		}
	}
	if _, ok := r.Get("alpha"); ok {
		t.Fatalf("expected alpha removed from registry after StopAll")
	}
	if _, ok := r.Get("beta"); ok {
		t.Fatalf("expected beta removed from registry after StopAll")
	}
}

func TestNamesReturnsSnapshot(t *testing.T) {
	r := shortWindowRegistry()
	r.Claim("alpha")
	r.Claim("beta")
	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}
