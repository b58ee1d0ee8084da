// internal/database/tx.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TxBounds caps how long a voucher transaction may wait for locks and run overall.
type TxBounds struct {
	Timeout     time.Duration
	LockTimeout time.Duration
}

// WithTransaction runs fn in a default transaction.
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// WithSerializableTransaction runs fn at SERIALIZABLE isolation under the given
// bounds. On Postgres the lock wait and statement time are also capped inside
// the transaction. SQLite transactions are already serializable.
func WithSerializableTransaction(ctx context.Context, db *gorm.DB, bounds TxBounds, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, bounds.Timeout)
	defer cancel()

	isPostgres := db.Dialector.Name() == "postgres"

	opts := &sql.TxOptions{}
	if isPostgres {
		opts.Isolation = sql.LevelSerializable
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres {
			if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", bounds.LockTimeout.Milliseconds())).Error; err != nil {
				return err
			}
			if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", bounds.Timeout.Milliseconds())).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	}, opts)
}
