package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsWalksWrapChain(t *testing.T) {
	inner := HTTP(CodeProviderHTTP, 503, "provider unavailable")
	outer := Wrap(CodeStepAborted, "step swap failed", fmt.Errorf("quote: %w", inner))

	if !Is(outer, CodeStepAborted) {
		t.Fatal("expected outer code to match")
	}
	if !Is(outer, CodeProviderHTTP) {
		t.Fatal("expected wrapped provider code to match")
	}
	if Is(outer, CodeInvalidRoute) {
		t.Fatal("unexpected match for unrelated code")
	}
	if Is(errors.New("plain"), CodeInternal) {
		t.Fatal("plain errors carry no code")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := ExitCode(New(CodeInvalidRoute, "no steps")); got != int(CodeInvalidRoute) {
		t.Fatalf("expected %d, got %d", CodeInvalidRoute, got)
	}
	if got := ExitCode(errors.New("boom")); got != int(CodeInternal) {
		t.Fatalf("expected internal, got %d", got)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeTransactionReverted, "swap reverted", errors.New("execution reverted: STF"))
	if err.Error() != "swap reverted: execution reverted: STF" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if CodeTimeoutExhausted.String() != "timeout_exhausted" {
		t.Fatalf("unexpected code name %q", CodeTimeoutExhausted.String())
	}
}
