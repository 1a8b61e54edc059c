package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/keymesh/errors"
)

func TestValidateKeyExpr(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"simple key", "test/a", false},
		{"single chunk", "a", false},
		{"single wildcard", "test/*", false},
		{"multi wildcard", "test/**", false},
		{"wildcard in middle", "a/*/c", false},
		{"empty", "", true},
		{"leading slash", "/test/a", true},
		{"trailing slash", "test/a/", true},
		{"empty chunk", "test//a", true},
		{"star in literal", "te*st/a", true},
		{"dollar in literal", "te$st/a", true},
		{"question mark", "test/a?", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateKeyExpr(test.expr)
			if test.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidKeyExpr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonizeKeyExpr(t *testing.T) {
	tests := []struct {
		expr     string
		expected string
	}{
		{"a/b", "a/b"},
		{"a/**", "a/**"},
		{"a/**/**", "a/**"},
		{"**/**/b", "**/b"},
		{"a/**/**/**/b", "a/**/b"},
	}

	for _, test := range tests {
		t.Run(test.expr, func(t *testing.T) {
			assert.Equal(t, test.expected, CanonizeKeyExpr(test.expr))
		})
	}
}

func TestKeyExprMatches(t *testing.T) {
	tests := []struct {
		expr    string
		key     string
		matches bool
	}{
		{"test/a", "test/a", true},
		{"test/a", "test/b", false},
		{"test/*", "test/a", true},
		{"test/*", "test/a/b", false},
		{"test/**", "test/a", true},
		{"test/**", "test/a/b/c", true},
		{"test/**", "test", true},
		{"**", "anything/at/all", true},
		{"a/*/c", "a/b/c", true},
		{"a/*/c", "a/c", false},
		{"a/**/c", "a/c", true},
		{"a/**/c", "a/b/x/c", true},
		{"a/**/c", "a/b/x", false},
	}

	for _, test := range tests {
		t.Run(test.expr+"~"+test.key, func(t *testing.T) {
			assert.Equal(t, test.matches, KeyExprMatches(test.expr, test.key))
		})
	}
}

func TestKeyExprIntersects(t *testing.T) {
	tests := []struct {
		a, b       string
		intersects bool
	}{
		{"test/a", "test/a", true},
		{"test/a", "test/b", false},
		{"test/*", "test/a", true},
		{"test/*", "*/a", true},
		{"test/**", "test/a/b", true},
		{"test/**", "test", true},
		{"a/**/c", "a/b/*", true},
		{"a/b", "a/b/c", false},
		{"**", "x/y", true},
		{"x/*", "y/*", false},
	}

	for _, test := range tests {
		t.Run(test.a+"~"+test.b, func(t *testing.T) {
			assert.Equal(t, test.intersects, KeyExprIntersects(test.a, test.b))
			// Intersection is symmetric.
			assert.Equal(t, test.intersects, KeyExprIntersects(test.b, test.a))
		})
	}
}

func TestKeyExprIncludes(t *testing.T) {
	tests := []struct {
		a, b     string
		includes bool
	}{
		{"test/a", "test/a", true},
		{"test/*", "test/a", true},
		{"test/a", "test/*", false},
		{"test/**", "test/a/b", true},
		{"test/**", "test/*", true},
		{"test/*", "test/**", false},
		{"**", "a/b/c", true},
		{"**", "x/**", true},
		{"a/**/c", "a/b/c", true},
		{"a/b", "a/b/c", false},
	}

	for _, test := range tests {
		t.Run(test.a+"~"+test.b, func(t *testing.T) {
			assert.Equal(t, test.includes, KeyExprIncludes(test.a, test.b))
		})
	}
}

func TestHasWildcards(t *testing.T) {
	assert.False(t, HasWildcards("a/b/c"))
	assert.True(t, HasWildcards("a/*/c"))
	assert.True(t, HasWildcards("a/**"))
}
