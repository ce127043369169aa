package id

import (
	"testing"

	"github.com/stoneforge/stoneforge/internal/errs"
)

func TestParseRoot(t *testing.T) {
	parsed, err := Parse("el-a1b2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Prefix != "el" {
		t.Errorf("prefix = %q, want el", parsed.Prefix)
	}
	if parsed.Hash != "a1b2" {
		t.Errorf("hash = %q, want a1b2", parsed.Hash)
	}
	if !parsed.IsRoot {
		t.Error("expected IsRoot")
	}
	if parsed.Depth != 0 {
		t.Errorf("depth = %d, want 0", parsed.Depth)
	}
}

func TestParseHierarchical(t *testing.T) {
	parsed, err := Parse("ts-0k9zq1.1.12.3")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Prefix != "ts" {
		t.Errorf("prefix = %q, want ts", parsed.Prefix)
	}
	if parsed.Hash != "0k9zq1" {
		t.Errorf("hash = %q, want 0k9zq1", parsed.Hash)
	}
	if parsed.IsRoot {
		t.Error("expected non-root")
	}
	if parsed.Depth != 3 {
		t.Errorf("depth = %d, want 3", parsed.Depth)
	}
	want := []int{1, 12, 3}
	for i, seg := range want {
		if parsed.Segments[i] != seg {
			t.Errorf("segment %d = %d, want %d", i, parsed.Segments[i], seg)
		}
	}
	if parsed.String() != "ts-0k9zq1.1.12.3" {
		t.Errorf("String() = %q", parsed.String())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"el",
		"el-",
		"el-ab",          // hash too short
		"el-abcdefghi",   // hash too long
		"EL-abcd",        // uppercase prefix
		"el-ABCD",        // uppercase hash
		"e1-abcd",        // digit in prefix
		"elx-abcd",       // three-letter prefix
		"el-abc.1.2.3.4", // depth 4
		"el-abc.",        // trailing dot
		"el-abc.x",       // non-numeric segment
		"el_abc",         // wrong separator
		"el-ab cd",       // whitespace
	}
	for _, s := range bad {
		if _, err := Parse(s); !errs.Is(err, errs.KindValidation) {
			t.Errorf("Parse(%q): expected Validation error, got %v", s, err)
		}
		if IsValid(s) {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestParseRejectsZeroSegment(t *testing.T) {
	// The segment pattern admits 0 but child indices are positive.
	if _, err := Parse("el-abc.0"); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected Validation for zero segment, got %v", err)
	}
}

func TestIsValid(t *testing.T) {
	good := []string{"el-abc", "el-abcdefgh", "ts-123", "el-abc.1", "el-abc.1.2.3"}
	for _, s := range good {
		if !IsValid(s) {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
}
