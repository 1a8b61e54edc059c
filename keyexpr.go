package keymesh

import (
	"sync/atomic"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// KeyExpr is a validated, canonized key expression. Expressions built with
// NewKeyExpr are standalone; expressions from Session.DeclareKeyExpr are
// interned on the engine and release their handle on Undeclare. Either way
// the expression is unusable after Undeclare: relation checks fail with a
// closed-resource error rather than operating on a released expression.
type KeyExpr struct {
	expr   string
	eng    *runtime.Engine
	ref    handleRef
	closed atomic.Bool
}

// NewKeyExpr validates and canonizes an expression without declaring it on
// a session.
func NewKeyExpr(expr string) (*KeyExpr, error) {
	if err := runtime.ValidateKeyExpr(expr); err != nil {
		return nil, err
	}
	return &KeyExpr{expr: runtime.CanonizeKeyExpr(expr)}, nil
}

// String returns the canonized expression.
func (k *KeyExpr) String() string {
	return k.expr
}

// IsValid reports whether the expression has not been undeclared.
func (k *KeyExpr) IsValid() bool {
	return !k.closed.Load()
}

func (k *KeyExpr) check(op string) error {
	if k.closed.Load() {
		return errors.WrapInvalid(errors.ErrHandleClosed, "KeyExpr", op, "resolve expression")
	}
	return nil
}

// Matches reports whether this expression matches the concrete key.
func (k *KeyExpr) Matches(key string) (bool, error) {
	if err := k.check("Matches"); err != nil {
		return false, err
	}
	if err := runtime.ValidateKeyExpr(key); err != nil {
		return false, err
	}
	return runtime.KeyExprMatches(k.expr, runtime.CanonizeKeyExpr(key)), nil
}

// Intersects reports whether some concrete key is matched by both
// expressions.
func (k *KeyExpr) Intersects(other *KeyExpr) (bool, error) {
	if err := k.check("Intersects"); err != nil {
		return false, err
	}
	if err := other.check("Intersects"); err != nil {
		return false, err
	}
	return runtime.KeyExprIntersects(k.expr, other.expr), nil
}

// Includes reports whether every key matched by other is also matched by
// this expression.
func (k *KeyExpr) Includes(other *KeyExpr) (bool, error) {
	if err := k.check("Includes"); err != nil {
		return false, err
	}
	if err := other.check("Includes"); err != nil {
		return false, err
	}
	return runtime.KeyExprIncludes(k.expr, other.expr), nil
}

// Undeclare invalidates the expression, releasing its engine handle when it
// was declared on a session. Only the first call releases.
func (k *KeyExpr) Undeclare() error {
	if k.closed.Swap(true) {
		return nil
	}
	h, ok := k.ref.take()
	if !ok {
		return nil
	}
	if err := k.eng.Free(h); err != nil {
		return errors.Wrap(err, "KeyExpr", "Undeclare", "free handle")
	}
	return nil
}

// Close is an alias for Undeclare, satisfying io.Closer.
func (k *KeyExpr) Close() error {
	return k.Undeclare()
}
