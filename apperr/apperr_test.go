package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "user not found")
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %s, want not_found", KindOf(err))
	}

	wrapped := fmt.Errorf("resolver: %w", err)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("KindOf through wrap = %s, want not_found", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf of a plain error should be unknown")
	}
}

func TestClientMessage_MasksInternalErrors(t *testing.T) {
	internal := errors.New("mongo: connection pool exhausted at 10.0.0.3")

	if got := ClientMessage(internal, false); got != InternalMessage {
		t.Errorf("Production message = %q, leaked internals", got)
	}
	if got := ClientMessage(internal, true); got == InternalMessage {
		t.Error("Development mode should pass through the detail")
	}

	typed := New(KindUnauthenticated, "Unauthenticated")
	if got := ClientMessage(typed, false); got != "Unauthenticated" {
		t.Errorf("Typed error message = %q", got)
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindUnknown, "something failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Wrap lost the cause")
	}
}
