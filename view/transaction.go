package view

import (
	"context"
	"math"
	"time"

	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
)

// Transaction stages a replacement of a view's current SQL representation
// and commits it as one new Version. Unlike table.Transaction, a view
// commit never touches manifests or data files — it is a pure metadata
// swap, so the retry schedule and CAS contract are the only machinery
// carried over.
type Transaction struct {
	view *View
	base *Metadata

	operation       string // "create" | "replace"
	representations []Representation
	setProps        map[string]string
	retry           table.RetryConfig
}

// Replace stages a new set of representations to become the current
// version, under operation "replace".
func (tx *Transaction) Replace(reps ...Representation) *Transaction {
	tx.operation = "replace"
	tx.representations = reps
	return tx
}

// SetProperties stages view property upserts.
func (tx *Transaction) SetProperties(props map[string]string) *Transaction {
	if tx.setProps == nil {
		tx.setProps = map[string]string{}
	}
	for k, v := range props {
		tx.setProps[k] = v
	}
	return tx
}

// WithRetryConfig overrides the commit retry schedule, matching
// table.Transaction's knob.
func (tx *Transaction) WithRetryConfig(c table.RetryConfig) *Transaction {
	tx.retry = c
	return tx
}

// Committer is the catalog-side half of a view commit, mirroring
// table.Committer but over Metadata.
type Committer interface {
	CommitMetadata(ctx context.Context, expectedMetadataPath string, next *Metadata) (newMetadataPath string, err error)
	Reload(ctx context.Context) (metadataPath string, metadata *Metadata, err error)
}

// Commit applies the staged representation replacement, retrying against
// freshly reloaded base metadata on a CommitConflict exactly as
// table.Transaction.Commit does.
func (tx *Transaction) Commit(ctx context.Context, committer Committer, nowMs int64) error {
	base := tx.base
	basePath := tx.view.MetadataPath

	var lastErr error
	for attempt := 1; attempt <= tx.retry.MaxAttempts; attempt++ {
		next, err := tx.buildMetadata(base, nowMs)
		if err != nil {
			return err
		}
		newPath, err := committer.CommitMetadata(ctx, basePath, next)
		if err == nil {
			tx.view.Metadata = next
			tx.view.MetadataPath = newPath
			return nil
		}
		if !errors.Is(err, errors.CommonCommitConflict) {
			return err
		}
		lastErr = err
		if attempt == tx.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay(tx.retry, attempt)):
		}
		basePath, base, err = committer.Reload(ctx)
		if err != nil {
			return err
		}
	}
	return errors.New(errors.CommonCommitConflict, "view commit did not succeed after all retry attempts", lastErr).
		AddContext("attempts", tx.retry.MaxAttempts)
}

// retryDelay mirrors table.Transaction's unexported backoff computation,
// derived from the same RetryConfig fields.
func retryDelay(c table.RetryConfig, attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	return time.Duration(d)
}

func (tx *Transaction) buildMetadata(base *Metadata, nowMs int64) (*Metadata, error) {
	next := base
	if len(tx.setProps) > 0 {
		next = next.WithProperties(tx.setProps)
	}
	if len(tx.representations) == 0 {
		return next, nil
	}
	for _, r := range tx.representations {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	v := Version{
		VersionID:       next.nextVersionID(),
		TimestampMs:     nowMs,
		Summary:         Summary{Operation: tx.operation},
		Representations: tx.representations,
	}
	return next.WithVersion(v), nil
}
