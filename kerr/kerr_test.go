package kerr

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapNilCauseReturnsNil(t *testing.T) {
	t.Parallel()
	if err := Wrap(IoFailure, "read halo buffer", nil); err != nil {
		t.Fatalf("Wrap with nil cause = %v, want nil", err)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	base := errors.New("transport closed")
	err := Wrap(MpiFailure, "send to neighbor", base)

	if got := KindOf(err); got != MpiFailure {
		t.Errorf("KindOf = %v, want MpiFailure", got)
	}
	if !Is(err, MpiFailure) {
		t.Error("Is(err, MpiFailure) = false, want true")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should see through to the wrapped cause")
	}
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	t.Parallel()
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Errorf("KindOf(plain error) = %v, want Unknown", got)
	}
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	t.Parallel()
	err := New(DomainTooSmall, "rank 3 domain size 2 below minimum 4")
	if !strings.Contains(err.Error(), "DomainTooSmall") {
		t.Fatalf("message %q does not name its kind", err.Error())
	}

	wrapped := Wrap(NoStorage, "var 'temp' not allocated", errors.New("arena exhausted"))
	if wrapped.Cause == nil {
		t.Fatal("expected cause to be set")
	}
	if !strings.Contains(wrapped.Error(), "arena exhausted") {
		t.Fatalf("message %q does not include its cause", wrapped.Error())
	}
}
