package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeFromWrappedError(t *testing.T) {
	base := New(CodeTimeout, "request timed out")
	wrapped := fmt.Errorf("execute: %w", base)
	if got := ExitCode(wrapped); got != int(CodeTimeout) {
		t.Fatalf("expected exit %d, got %d", CodeTimeout, got)
	}
	if !Is(wrapped, CodeTimeout) {
		t.Fatal("expected Is to match wrapped code")
	}
	if ExitCode(fmt.Errorf("plain")) != int(CodeInternal) {
		t.Fatal("expected untyped error to map to internal")
	}
	if ExitCode(nil) != 0 {
		t.Fatal("expected nil error to map to success")
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(CodeHTTPStatus) != "http_status" {
		t.Fatalf("unexpected type name: %s", TypeName(CodeHTTPStatus))
	}
	if TypeName(Code(99)) != "internal_error" {
		t.Fatalf("unknown codes should be internal, got %s", TypeName(Code(99)))
	}
}
