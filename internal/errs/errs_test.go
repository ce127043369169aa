package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindValidation, "validation"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindConstraint, "constraint"},
		{KindExternal, "external"},
		{KindTimeout, "timeout"},
		{KindUnknown, "unknown"},
	}
	for _, tc := range cases {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestIs(t *testing.T) {
	err := New(KindNotFound, "task %s", "el-abc")
	if !Is(err, KindNotFound) {
		t.Error("expected KindNotFound match")
	}
	if Is(err, KindConflict) {
		t.Error("unexpected KindConflict match")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := New(KindTimeout, "test run exceeded budget")
	outer := fmt.Errorf("process task: %w", inner)
	if !Is(outer, KindTimeout) {
		t.Error("expected KindTimeout through fmt.Errorf wrapping")
	}

	double := Wrap(KindExternal, inner, "store write")
	if !Is(double, KindExternal) {
		t.Error("expected outer KindExternal")
	}
	if !Is(double, KindTimeout) {
		t.Error("expected inner KindTimeout through Wrap")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindExternal, nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestKindOf(t *testing.T) {
	err := Wrap(KindConflict, errors.New("boom"), "complete task")
	if got := KindOf(err); got != KindConflict {
		t.Errorf("KindOf = %v, want KindConflict", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want KindUnknown", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindExternal, cause, "store write")
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}
