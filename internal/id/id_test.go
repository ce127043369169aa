package id

import (
	"context"
	"strings"
	"testing"

	"github.com/stoneforge/stoneforge/internal/errs"
)

func TestGenerateDefaultLength(t *testing.T) {
	g := New("el")
	got, err := g.Generate(context.Background(), "widget", "tester", Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !rootPattern.MatchString(got) {
		t.Errorf("id %q does not match root pattern", got)
	}
	// Default hash length is 4 when no element count is given.
	if len(got) != len("el-")+4 {
		t.Errorf("expected hash length 4, got id %q", got)
	}
}

func TestGenerateRapidBurst(t *testing.T) {
	g := New("el")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		got, err := g.Generate(context.Background(), "rapid", "tester", Options{})
		if err != nil {
			t.Fatalf("Generate %d failed: %v", i, err)
		}
		if seen[got] {
			t.Fatalf("duplicate id %q on iteration %d", got, i)
		}
		seen[got] = true
		if !rootPattern.MatchString(got) {
			t.Errorf("id %q does not match root pattern", got)
		}
		if len(got) != len("el-")+4 {
			t.Errorf("expected hash length 4, got id %q", got)
		}
	}
}

func TestGenerateAdaptiveLength(t *testing.T) {
	cases := []struct {
		count int
		want  int
	}{
		{1, 3},
		{99, 3},
		{100, 4},
		{499, 4},
		{500, 5},
		{2999, 5},
		{3000, 6},
		{10000, 6},
		{19999, 6},
		{20000, 7},
		{99999, 7},
		{100000, 8},
		{5000000, 8},
	}
	g := New("el")
	for _, tc := range cases {
		got, err := g.Generate(context.Background(), "sized", "tester", Options{ElementCount: tc.count})
		if err != nil {
			t.Fatalf("Generate(count=%d) failed: %v", tc.count, err)
		}
		hash := strings.TrimPrefix(got, "el-")
		if len(hash) != tc.want {
			t.Errorf("count %d: hash length %d, want %d (id %q)", tc.count, len(hash), tc.want, got)
		}
	}
}

func TestGenerateCollisionRetry(t *testing.T) {
	g := New("el")
	calls := 0
	// Reject the first three candidates.
	collides := func(ctx context.Context, candidate string) (bool, error) {
		calls++
		return calls <= 3, nil
	}

	got, err := g.Generate(context.Background(), "contended", "tester", Options{Collides: collides})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 predicate calls, got %d", calls)
	}
	if !rootPattern.MatchString(got) {
		t.Errorf("id %q does not match root pattern", got)
	}
}

func TestGenerateExhaustion(t *testing.T) {
	g := New("el")
	attempts := 0
	alwaysCollides := func(ctx context.Context, candidate string) (bool, error) {
		attempts++
		return true, nil
	}

	_, err := g.Generate(context.Background(), "doomed", "tester", Options{Collides: alwaysCollides})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errs.Is(err, errs.KindConflict) {
		t.Errorf("expected Conflict kind, got %v", err)
	}

	// Attempt bound: (MaxNonce+1) per length, lengths 4..8 from the
	// default starting length.
	maxAttempts := (MaxNonce + 1) * (MaxHashLength - MinHashLength + 1)
	if attempts > maxAttempts {
		t.Errorf("attempts %d exceeds bound %d", attempts, maxAttempts)
	}
	want := (MaxNonce + 1) * (MaxHashLength - DefaultHashLength + 1)
	if attempts != want {
		t.Errorf("attempts = %d, want %d", attempts, want)
	}
}

func TestGenerateLengthGrowsOnExhaustedNonce(t *testing.T) {
	g := New("el")
	var lengths []int
	collides := func(ctx context.Context, candidate string) (bool, error) {
		lengths = append(lengths, len(strings.TrimPrefix(candidate, "el-")))
		// Accept only once candidates reach length 6.
		return len(strings.TrimPrefix(candidate, "el-")) < 6, nil
	}

	got, err := g.Generate(context.Background(), "grower", "tester", Options{Collides: collides})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	hash := strings.TrimPrefix(got, "el-")
	if len(hash) != 6 {
		t.Errorf("expected final hash length 6, got %q", got)
	}
	// 10 rejections at length 4, 10 at length 5, then success.
	if len(lengths) != 21 {
		t.Errorf("expected 21 predicate calls, got %d", len(lengths))
	}
}

func TestGenerateCollisionPredicateError(t *testing.T) {
	g := New("el")
	broken := func(ctx context.Context, candidate string) (bool, error) {
		return false, context.DeadlineExceeded
	}
	_, err := g.Generate(context.Background(), "broken", "tester", Options{Collides: broken})
	if err == nil {
		t.Fatal("expected error from predicate")
	}
	if !errs.Is(err, errs.KindExternal) {
		t.Errorf("expected External kind, got %v", err)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	g := New("ts")
	for _, count := range []int{0, 50, 5000, 50000} {
		got, err := g.Generate(context.Background(), "roundtrip", "tester", Options{ElementCount: count})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		parsed, err := Parse(got)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", got, err)
		}
		if parsed.String() != got {
			t.Errorf("round trip %q -> %q", got, parsed.String())
		}
		if !parsed.IsRoot {
			t.Errorf("expected root id, got %+v", parsed)
		}
	}
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.events = append(s.events, e)
}

func (s *recordingSink) count(typ EventType) int {
	n := 0
	for _, e := range s.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestGenerateEvents(t *testing.T) {
	sink := &recordingSink{}
	g := &Generator{Prefix: "el", Sink: sink}

	rejections := 0
	collides := func(ctx context.Context, candidate string) (bool, error) {
		rejections++
		return rejections <= 2, nil
	}

	if _, err := g.Generate(context.Background(), "observed", "tester", Options{Collides: collides}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got := sink.count(EventGenerationStarted); got != 1 {
		t.Errorf("generation_started events = %d, want 1", got)
	}
	if got := sink.count(EventGenerationCompleted); got != 1 {
		t.Errorf("generation_completed events = %d, want 1", got)
	}
	if got := sink.count(EventCollisionDetected); got != 2 {
		t.Errorf("collision_detected events = %d, want 2", got)
	}
	if got := sink.count(EventNonceIncrement); got != 2 {
		t.Errorf("nonce_increment events = %d, want 2", got)
	}
}

func TestChildID(t *testing.T) {
	g := New("el")

	child, err := g.ChildID("el-abc", 1)
	if err != nil {
		t.Fatalf("ChildID failed: %v", err)
	}
	if child != "el-abc.1" {
		t.Errorf("child = %q, want el-abc.1", child)
	}

	grandchild, err := g.ChildID(child, 2)
	if err != nil {
		t.Fatalf("ChildID depth 2 failed: %v", err)
	}
	great, err := g.ChildID(grandchild, 3)
	if err != nil {
		t.Fatalf("ChildID depth 3 failed: %v", err)
	}
	if great != "el-abc.1.2.3" {
		t.Errorf("deep child = %q, want el-abc.1.2.3", great)
	}

	if _, err := g.ChildID(great, 4); !errs.Is(err, errs.KindConstraint) {
		t.Errorf("expected Constraint at depth 4, got %v", err)
	}
}

func TestChildIDRejectsBadIndex(t *testing.T) {
	g := New("el")
	if _, err := g.ChildID("el-abc", 0); !errs.Is(err, errs.KindConstraint) {
		t.Errorf("expected Constraint for index 0, got %v", err)
	}
	if _, err := g.ChildID("el-abc", -5); !errs.Is(err, errs.KindConstraint) {
		t.Errorf("expected Constraint for negative index, got %v", err)
	}
	if _, err := g.ChildID("not an id", 1); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected Validation for bad parent, got %v", err)
	}
}
