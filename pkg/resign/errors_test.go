package resign

import (
	"errors"
	"testing"
)

func TestError_MessageWithCause(t *testing.T) {
	err := fail(SignFailed, errors.New("boom"))
	if got := err.Error(); got != "SignFailed: boom" {
		t.Errorf("Error() = %q", got)
	}
}

func TestError_MessageWithoutCause(t *testing.T) {
	err := &Error{Kind: Encrypted}
	if got := err.Error(); got != "Encrypted" {
		t.Errorf("Error() = %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := fail(VerifyFailed, cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through Unwrap to the cause")
	}
}
