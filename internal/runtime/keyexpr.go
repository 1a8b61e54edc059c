package runtime

import (
	"fmt"
	"strings"

	"github.com/c360/keymesh/errors"
)

// Key expressions are '/'-separated chunk paths. A chunk is either a
// literal, "*" (exactly one chunk), or "**" (zero or more chunks).
// Matching and intersection operate chunk-wise; the zero-chunk semantics
// of "**" ("a/**" covers "a" itself) rule out off-the-shelf glob matchers.

const (
	chunkSingle = "*"
	chunkMulti  = "**"
)

// ValidateKeyExpr checks the syntax of a key expression.
func ValidateKeyExpr(expr string) error {
	if expr == "" {
		return errors.WrapInvalid(
			fmt.Errorf("empty expression: %w", errors.ErrInvalidKeyExpr),
			"KeyExpr", "Validate", "check expression")
	}
	if strings.HasPrefix(expr, "/") || strings.HasSuffix(expr, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("leading or trailing '/' in %q: %w", expr, errors.ErrInvalidKeyExpr),
			"KeyExpr", "Validate", "check expression")
	}

	for _, chunk := range strings.Split(expr, "/") {
		if chunk == "" {
			return errors.WrapInvalid(
				fmt.Errorf("empty chunk in %q: %w", expr, errors.ErrInvalidKeyExpr),
				"KeyExpr", "Validate", "check expression")
		}
		if chunk == chunkSingle || chunk == chunkMulti {
			continue
		}
		if strings.ContainsAny(chunk, "*$#?") {
			return errors.WrapInvalid(
				fmt.Errorf("invalid chunk %q in %q: %w", chunk, expr, errors.ErrInvalidKeyExpr),
				"KeyExpr", "Validate", "check expression")
		}
	}
	return nil
}

// CanonizeKeyExpr returns the canonical form of a valid expression:
// runs of consecutive "**" chunks collapse into one.
func CanonizeKeyExpr(expr string) string {
	chunks := strings.Split(expr, "/")
	out := chunks[:0]
	for _, chunk := range chunks {
		if chunk == chunkMulti && len(out) > 0 && out[len(out)-1] == chunkMulti {
			continue
		}
		out = append(out, chunk)
	}
	return strings.Join(out, "/")
}

// HasWildcards reports whether the expression contains "*" or "**" chunks.
// Publishers must publish on wildcard-free keys.
func HasWildcards(expr string) bool {
	for _, chunk := range strings.Split(expr, "/") {
		if chunk == chunkSingle || chunk == chunkMulti {
			return true
		}
	}
	return false
}

// KeyExprMatches reports whether the expression covers the concrete key.
func KeyExprMatches(expr, key string) bool {
	return matchChunks(strings.Split(expr, "/"), strings.Split(key, "/"))
}

func matchChunks(expr, key []string) bool {
	if len(expr) == 0 {
		return len(key) == 0
	}
	if expr[0] == chunkMulti {
		if matchChunks(expr[1:], key) {
			return true
		}
		return len(key) > 0 && matchChunks(expr, key[1:])
	}
	if len(key) == 0 {
		return false
	}
	if expr[0] == chunkSingle || expr[0] == key[0] {
		return matchChunks(expr[1:], key[1:])
	}
	return false
}

// KeyExprIntersects reports whether some concrete key is covered by both
// expressions.
func KeyExprIntersects(a, b string) bool {
	return intersectChunks(strings.Split(a, "/"), strings.Split(b, "/"))
}

func intersectChunks(a, b []string) bool {
	if len(a) == 0 {
		return allMulti(b)
	}
	if len(b) == 0 {
		return allMulti(a)
	}
	if a[0] == chunkMulti {
		return intersectChunks(a[1:], b) || intersectChunks(a, b[1:])
	}
	if b[0] == chunkMulti {
		return intersectChunks(a, b[1:]) || intersectChunks(a[1:], b)
	}
	if a[0] == chunkSingle || b[0] == chunkSingle || a[0] == b[0] {
		return intersectChunks(a[1:], b[1:])
	}
	return false
}

// KeyExprIncludes reports whether every concrete key covered by b is also
// covered by a.
func KeyExprIncludes(a, b string) bool {
	return includeChunks(strings.Split(a, "/"), strings.Split(b, "/"))
}

func includeChunks(a, b []string) bool {
	if len(b) == 0 {
		return allMulti(a)
	}
	if len(a) == 0 {
		return false
	}
	if a[0] == chunkMulti {
		if includeChunks(a[1:], b) {
			return true
		}
		return includeChunks(a, b[1:])
	}
	if b[0] == chunkMulti {
		// b can expand to arbitrarily many chunks; only "**" in a covers that.
		return false
	}
	if a[0] == chunkSingle {
		return includeChunks(a[1:], b[1:])
	}
	if b[0] == chunkSingle {
		// a has a literal where b allows any chunk.
		return false
	}
	if a[0] == b[0] {
		return includeChunks(a[1:], b[1:])
	}
	return false
}

func allMulti(chunks []string) bool {
	for _, chunk := range chunks {
		if chunk != chunkMulti {
			return false
		}
	}
	return true
}
