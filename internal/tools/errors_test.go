package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "click_on_ui"}
	want := `tool "click_on_ui" is not available`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	orig := &ErrToolUnavailable{ToolName: "execute_python"}
	wrapped := fmt.Errorf("lookup: %w", orig)

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "execute_python" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "execute_python")
	}
}

func TestErrToolUnavailable_NotMatchOtherErrors(t *testing.T) {
	var target *ErrToolUnavailable
	if errors.As(ErrUnknownTool, &target) {
		t.Error("errors.As should not match ErrUnknownTool")
	}
}

func TestArgError(t *testing.T) {
	err := &ArgError{Tool: "system_control", Arg: "level", Reason: "must be a number"}
	want := `system_control: argument "level" must be a number`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
