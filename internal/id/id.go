// Package id produces short, collision-resistant, hierarchical
// identifiers of the form PREFIX-HASH[.N]{0..3}. Hash length adapts
// to the size of the namespace so that collision probability stays
// near 1% at the birthday bound.
package id

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/stoneforge/stoneforge/internal/errs"
)

const (
	// MinHashLength is the shortest hash the generator emits.
	MinHashLength = 3
	// MaxHashLength is the longest hash the generator emits.
	MaxHashLength = 8
	// DefaultHashLength is used when the caller gives no element count.
	DefaultHashLength = 4
	// MaxNonce is the highest nonce tried before growing the hash.
	MaxNonce = 9
)

// DefaultPrefix is the two-letter tag used when none is configured.
const DefaultPrefix = "el"

// monotonic disambiguates calls that land on the same wall-clock
// nanosecond.
var monotonic atomic.Int64

// CollisionFunc reports whether a candidate id already exists. It
// must be safe for concurrent use if Generate is called concurrently.
type CollisionFunc func(ctx context.Context, candidate string) (bool, error)

// Options configures a single Generate call.
type Options struct {
	// Time overrides the timestamp. Zero means now.
	Time time.Time
	// ElementCount sizes the namespace for initial hash-length
	// selection. Zero or negative means unknown.
	ElementCount int
	// Collides is the optional collision predicate.
	Collides CollisionFunc
}

// Generator mints ids. The zero value is usable; it emits ids with
// DefaultPrefix and discards events and logs. A Generator holds no
// mutable state and is safe for concurrent use.
type Generator struct {
	// Prefix is the two-letter tag on every id.
	Prefix string
	// Sink receives generation events.
	Sink Sink
	// Logger receives leveled log output.
	Logger Logger
}

// New creates a Generator with the given prefix.
func New(prefix string) *Generator {
	return &Generator{Prefix: prefix}
}

func (g *Generator) prefix() string {
	if g.Prefix == "" {
		return DefaultPrefix
	}
	return g.Prefix
}

func (g *Generator) sink() Sink {
	if g.Sink == nil {
		return NopSink{}
	}
	return g.Sink
}

func (g *Generator) logger() Logger {
	if g.Logger == nil {
		return NopLogger{}
	}
	return g.Logger
}

// lengthForCount maps a namespace size to an initial hash length.
// Thresholds target roughly 1% birthday-collision probability.
func lengthForCount(count int) int {
	switch {
	case count < 100:
		return 3
	case count < 500:
		return 4
	case count < 3000:
		return 5
	case count < 20000:
		return 6
	case count < 100000:
		return 7
	default:
		return 8
	}
}

// Generate mints a root id for the given identifier and creator.
// When a collision predicate is supplied, the generator retries with
// increasing nonces (0..MaxNonce), then grows the hash length up to
// MaxHashLength, and finally fails with a Conflict error.
func (g *Generator) Generate(ctx context.Context, identifier, creator string, opts Options) (string, error) {
	ts := opts.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	// Fold a monotonic counter into the nanosecond timestamp so two
	// calls in the same instant hash differently.
	stampNs := ts.UnixNano() + monotonic.Add(1)

	hashLength := DefaultHashLength
	if opts.ElementCount > 0 {
		hashLength = lengthForCount(opts.ElementCount)
	}

	g.sink().Emit(Event{
		Type:       EventGenerationStarted,
		Identifier: identifier,
		HashLength: hashLength,
		Timestamp:  time.Now(),
	})
	g.logger().Debugf("id: generating for %q (creator=%q, hashLength=%d)", identifier, creator, hashLength)

	for ; hashLength <= MaxHashLength; hashLength++ {
		for nonce := 0; nonce <= MaxNonce; nonce++ {
			candidate := g.candidate(identifier, creator, stampNs, nonce, hashLength)

			if opts.Collides == nil {
				g.sink().Emit(Event{
					Type:       EventGenerationCompleted,
					Identifier: identifier,
					ID:         candidate,
					Nonce:      nonce,
					HashLength: hashLength,
					Timestamp:  time.Now(),
				})
				return candidate, nil
			}

			collides, err := opts.Collides(ctx, candidate)
			if err != nil {
				wrapped := errs.Wrap(errs.KindExternal, err, "collision check for %s", candidate)
				g.sink().Emit(Event{
					Type:       EventGenerationFailed,
					Identifier: identifier,
					ID:         candidate,
					Nonce:      nonce,
					HashLength: hashLength,
					Err:        wrapped,
					Timestamp:  time.Now(),
				})
				return "", wrapped
			}
			if !collides {
				g.sink().Emit(Event{
					Type:       EventGenerationCompleted,
					Identifier: identifier,
					ID:         candidate,
					Nonce:      nonce,
					HashLength: hashLength,
					Timestamp:  time.Now(),
				})
				return candidate, nil
			}

			g.sink().Emit(Event{
				Type:       EventCollisionDetected,
				Identifier: identifier,
				ID:         candidate,
				Nonce:      nonce,
				HashLength: hashLength,
				Timestamp:  time.Now(),
			})
			g.logger().Debugf("id: collision on %s (nonce=%d)", candidate, nonce)

			if nonce < MaxNonce {
				g.sink().Emit(Event{
					Type:       EventNonceIncrement,
					Identifier: identifier,
					Nonce:      nonce + 1,
					HashLength: hashLength,
					Timestamp:  time.Now(),
				})
			}
		}

		if hashLength < MaxHashLength {
			g.logger().Infof("id: nonce range exhausted at length %d for %q, growing hash", hashLength, identifier)
			g.sink().Emit(Event{
				Type:       EventLengthIncrease,
				Identifier: identifier,
				HashLength: hashLength + 1,
				Timestamp:  time.Now(),
			})
		}
	}

	err := errs.New(errs.KindConflict, "id generation exhausted for %q: all nonces at all hash lengths collide", identifier)
	g.logger().Errorf("id: %v", err)
	g.sink().Emit(Event{
		Type:       EventGenerationFailed,
		Identifier: identifier,
		HashLength: MaxHashLength,
		Err:        err,
		Timestamp:  time.Now(),
	})
	return "", err
}

// candidate composes, hashes and renders one candidate id.
func (g *Generator) candidate(identifier, creator string, stampNs int64, nonce, hashLength int) string {
	input := fmt.Sprintf("%s|%s|%d|%d", identifier, creator, stampNs, nonce)
	digest := sha256.Sum256([]byte(input))

	// The digest is a 256-bit integer; render it in base-36 and
	// left-truncate. Native integer widths cannot hold it.
	n := new(big.Int).SetBytes(digest[:])
	encoded := n.Text(36)
	if len(encoded) > hashLength {
		encoded = encoded[:hashLength]
	}
	return g.prefix() + "-" + encoded
}

// ChildID appends a child index to a parent id. The index must be a
// positive integer and the parent must be above the maximum hierarchy
// depth.
func (g *Generator) ChildID(parent string, n int) (string, error) {
	parsed, err := Parse(parent)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", errs.New(errs.KindConstraint, "child index must be positive, got %d", n)
	}
	if parsed.Depth >= MaxDepth {
		return "", errs.New(errs.KindConstraint, "cannot extend %s: maximum hierarchy depth %d reached", parent, MaxDepth)
	}
	return fmt.Sprintf("%s.%d", parent, n), nil
}
