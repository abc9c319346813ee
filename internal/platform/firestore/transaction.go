package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction. It may run more than once when the transaction is
// retried, so it must not keep side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction executes fn on the shared client and wraps any failure with op. The transaction is
// bounded by txTimeout unless ctx expires sooner.
func (p *Provider) RunTransaction(ctx context.Context, op string, fn TxFunc) error {
	if fn == nil {
		return WrapError(op, errors.New("transaction function is nil"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return WrapError(op, err)
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError(op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(txAttempts)))
}
