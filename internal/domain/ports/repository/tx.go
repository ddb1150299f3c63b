package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository calls. The
// concrete type is infra-defined (pgx.Tx for Postgres); repositories must
// gracefully accept NoTX and fall back to their pool.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs a function inside one database transaction,
// passing the handle on via tx. It keeps use-case interfaces free of
// storage-specific transaction types while still letting "record purchase +
// grant entitlement" style sequences commit or roll back atomically.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		if err := purchases.Upsert(ctx, tx, p); err != nil {
//			return err
//		}
//		return grants.Upsert(ctx, tx, g)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
	// WithSubscriberLock additionally takes the per-subscriber advisory xact
	// lock before running fn, serializing concurrent processing for one
	// subscriber (full entitlement refreshes must not interleave).
	WithSubscriberLock(ctx context.Context, subscriberID string, fn func(ctx context.Context, tx Tx) error) error
}
