// Package storage reads and reconciles the Pi-hole gravity database.
package storage

import (
	"context"

	"gravityyaml/internal/model"
)

// Storage is the interface for all gravity persistence operations.
type Storage interface {
	// Load reads the full gravity configuration.
	Load(ctx context.Context) (*model.Model, error)
	// Reconcile makes the store match m in a single transaction.
	Reconcile(ctx context.Context, m *model.Model, opts ReconcileOptions) (*ReconcileReport, error)

	Close() error
}

// ReconcileOptions tunes a reconciliation run.
type ReconcileOptions struct {
	// DryRun performs every write and then rolls the transaction back.
	DryRun bool
}
