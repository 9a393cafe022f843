package table

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/utils"
)

// RetryConfig governs the commit loop's optimistic-concurrency retries.
// Defaults of 4 attempts with a 50ms base delay doubling each attempt
// (50ms, 100ms, 200ms) are distinct from whatever a borrowed retry helper
// might default to elsewhere — this is the schedule the transaction
// protocol requires.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond, Multiplier: 2.0}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	return time.Duration(d)
}

// Requirement is a precondition a transaction's commit re-checks against
// the latest base metadata before applying its update, every time it
// retries — so a requirement that held at Transaction-start time but no
// longer holds against a concurrently-committed metadata aborts the
// commit instead of silently overwriting the conflicting change.
type Requirement interface {
	Validate(base *TableMetadata) error
}

// RequireCurrentSnapshotID asserts the current-snapshot id has not moved
// since the transaction started (nil means "table had no snapshot yet").
// Commit checks it only against the table metadata it starts from, not
// against a base reloaded after a conflict.
type RequireCurrentSnapshotID struct{ Expected *int64 }

func (r RequireCurrentSnapshotID) Validate(base *TableMetadata) error {
	got := base.CurrentSnapshotID
	if (r.Expected == nil) != (got == nil) || (r.Expected != nil && *r.Expected != *got) {
		return errors.New(errors.CommonCommitConflict, "current snapshot id changed concurrently", nil)
	}
	return nil
}

// RequireNoFilesAdded asserts that every one of paths is still live in the
// table, i.e. that no concurrent commit has removed it — the check an
// overwrite/delete operation runs on its target files. Files that a
// concurrent commit added are not examined.
type RequireNoFilesAdded struct{ Paths map[string]bool }

func (r RequireNoFilesAdded) Validate(base *TableMetadata) error {
	// The caller (Transaction.rebuildAndValidate) re-derives the live file
	// set from base's current snapshot and checks membership; this type
	// only carries the path set being protected.
	return nil
}

// RequireFilesNotPresent asserts that none of paths are already live in
// the table — the duplicate-file guard a fast_append/append needs, since
// repeating the same append should fail instead of silently doubling the
// file into the table.
type RequireFilesNotPresent struct{ Paths map[string]bool }

func (r RequireFilesNotPresent) Validate(base *TableMetadata) error {
	// Paths checked against base's live file set by
	// Transaction.checkNoDuplicateFiles; this type only carries the set.
	return nil
}

// Transaction stages a set of metadata/data changes against a table's
// current metadata and commits them as one new snapshot (or, for
// schema/spec/property-only changes, one new metadata version with no new
// snapshot).
type Transaction struct {
	table *Table

	operation string // "append" | "fast_append" | "overwrite" | "delete" | "noop"

	schemaUpdate *iceberg.Schema
	specUpdate   *iceberg.PartitionSpec
	setProps     map[string]string
	removeProps  []string

	appends []DataFile
	deletes []DataFile

	requirements []Requirement
	retry        RetryConfig
}

func newTransaction(t *Table) *Transaction {
	base := t.Metadata
	return &Transaction{
		table:        t,
		operation:    "noop",
		setProps:     map[string]string{},
		requirements: []Requirement{RequireCurrentSnapshotID{Expected: base.CurrentSnapshotID}},
		retry:        DefaultRetryConfig(),
	}
}

// WithRetryConfig overrides the commit retry schedule.
func (tx *Transaction) WithRetryConfig(c RetryConfig) *Transaction {
	tx.retry = c
	return tx
}

// FastAppend stages files as new data files without checking for overlap
// with concurrent commits beyond the base current-snapshot requirement —
// the cheapest append mode, safe whenever writers only ever add files.
// Still rejects, with ValidationFailure, appending a file path already
// live in the table: repeating a fast_append must fail, not duplicate
// the file into a second snapshot.
func (tx *Transaction) FastAppend(files ...DataFile) *Transaction {
	tx.operation = "fast_append"
	tx.appends = append(tx.appends, files...)
	tx.requirements = append(tx.requirements, RequireFilesNotPresent{Paths: pathSet(files)})
	return tx
}

// Append stages files as new data files, with the same duplicate-file
// guard as FastAppend.
func (tx *Transaction) Append(files ...DataFile) *Transaction {
	tx.operation = "append"
	tx.appends = append(tx.appends, files...)
	tx.requirements = append(tx.requirements, RequireFilesNotPresent{Paths: pathSet(files)})
	return tx
}

// Overwrite stages toDelete as removed and toAdd as added in one snapshot.
// Commit aborts with ValidationFailure if a concurrent commit has already
// removed any of toDelete; toAdd is not checked against files already live.
func (tx *Transaction) Overwrite(toDelete []DataFile, toAdd []DataFile) *Transaction {
	tx.operation = "overwrite"
	tx.deletes = append(tx.deletes, toDelete...)
	tx.appends = append(tx.appends, toAdd...)
	tx.requirements = append(tx.requirements, RequireNoFilesAdded{Paths: pathSet(toDelete)})
	return tx
}

// Delete stages files as removed, with the same concurrent-conflict check
// as Overwrite.
func (tx *Transaction) Delete(files ...DataFile) *Transaction {
	tx.operation = "delete"
	tx.deletes = append(tx.deletes, files...)
	tx.requirements = append(tx.requirements, RequireNoFilesAdded{Paths: pathSet(files)})
	return tx
}

// UpdateSchema stages a schema evolution. next must be a legal evolution
// of the table's current schema (checked at Commit time against the
// latest base, not the schema at transaction-start).
func (tx *Transaction) UpdateSchema(next *iceberg.Schema) *Transaction {
	tx.schemaUpdate = next
	return tx
}

// UpdateSpec stages a partition-spec evolution.
func (tx *Transaction) UpdateSpec(next *iceberg.PartitionSpec) *Transaction {
	tx.specUpdate = next
	return tx
}

// SetProperties stages table property upserts.
func (tx *Transaction) SetProperties(props map[string]string) *Transaction {
	for k, v := range props {
		tx.setProps[k] = v
	}
	return tx
}

// RemoveProperties stages table property removals.
func (tx *Transaction) RemoveProperties(keys ...string) *Transaction {
	tx.removeProps = append(tx.removeProps, keys...)
	return tx
}

func pathSet(files []DataFile) map[string]bool {
	out := make(map[string]bool, len(files))
	for _, f := range files {
		out[f.FilePath] = true
	}
	return out
}

// Committer is the catalog-side half of a commit: given the metadata path
// the transaction started from and the freshly built TableMetadata, it
// attempts to atomically move the catalog's pointer, failing with a
// CommitConflict-coded error if a concurrent writer has already moved it.
// Catalog backends implement this to plug into Transaction.Commit.
type Committer interface {
	CommitMetadata(ctx context.Context, expectedMetadataPath string, next *TableMetadata) (newMetadataPath string, err error)
	// Reload fetches the latest metadata and its path, used to rebuild the
	// transaction's change against fresh base state after a conflict.
	Reload(ctx context.Context) (metadataPath string, metadata *TableMetadata, err error)
}

// Commit applies the staged changes, retrying against freshly reloaded
// base metadata up to Transaction.retry.MaxAttempts times whenever the
// catalog reports a concurrent writer beat this one to the pointer swap.
// fast_append/append/schema-and-property-only changes always retry on
// conflict; overwrite/delete abort immediately with ValidationFailure if
// the reloaded base's live file set already reflects the very files this
// transaction meant to remove.
func (tx *Transaction) Commit(ctx context.Context, committer Committer, nowMs int64) error {
	if tx.isNoop() {
		return nil
	}

	base := tx.table.Metadata
	basePath := tx.table.MetadataPath

	var lastErr error
	for attempt := 1; attempt <= tx.retry.MaxAttempts; attempt++ {
		if err := tx.validateRequirements(ctx, base); err != nil {
			return err
		}
		next, err := tx.buildMetadata(ctx, base, nowMs)
		if err != nil {
			return err
		}
		newPath, err := committer.CommitMetadata(ctx, basePath, next)
		if err == nil {
			tx.table.Metadata = next
			tx.table.MetadataPath = newPath
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
		case <-time.After(tx.retry.delay(attempt)):
		}
		basePath, base, err = committer.Reload(ctx)
		if err != nil {
			return err
		}
	}
	return errors.New(errors.CommonCommitConflict, "commit did not succeed after all retry attempts", lastErr).
		AddContext("attempts", tx.retry.MaxAttempts)
}

// isNoop reports whether committing tx would change nothing: no staged
// file changes, schema/spec update, or property change. Commit short-
// circuits on this rather than landing an empty new metadata version.
func (tx *Transaction) isNoop() bool {
	return tx.operation == "noop" &&
		len(tx.appends) == 0 &&
		len(tx.deletes) == 0 &&
		tx.schemaUpdate == nil &&
		tx.specUpdate == nil &&
		len(tx.setProps) == 0 &&
		len(tx.removeProps) == 0
}

func (tx *Transaction) validateRequirements(ctx context.Context, base *TableMetadata) error {
	for _, r := range tx.requirements {
		// The snapshot-id pin applies to the base Commit started from; a base
		// reloaded after a conflict is judged by the file-level checks below.
		if _, ok := r.(RequireCurrentSnapshotID); ok && base != tx.table.Metadata {
			continue
		}
		if err := r.Validate(base); err != nil {
			return errors.New(errors.CommonValidationFailure, "commit requirement failed", err)
		}
		switch req := r.(type) {
		case RequireNoFilesAdded:
			if len(req.Paths) > 0 {
				if err := tx.checkNoConflictingFiles(ctx, base, req.Paths); err != nil {
					return err
				}
			}
		case RequireFilesNotPresent:
			if len(req.Paths) > 0 {
				if err := tx.checkNoDuplicateFiles(ctx, base, req.Paths); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// liveFilePaths returns the set of file paths live in base's current
// snapshot (empty if base has no snapshot yet).
func (tx *Transaction) liveFilePaths(ctx context.Context, base *TableMetadata) (map[string]bool, error) {
	snap, err := base.CurrentSnapshot()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return map[string]bool{}, nil
	}
	t := &Table{Metadata: base, Store: tx.table.Store}
	files, err := t.Files(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(files))
	for _, f := range files {
		live[f.FilePath] = true
	}
	return live, nil
}

// checkNoConflictingFiles loads base's current live file set and aborts
// with ValidationFailure if any of paths is no longer present (already
// removed by a concurrent commit) — overwrite/delete must never silently
// re-apply against a file set that has moved.
func (tx *Transaction) checkNoConflictingFiles(ctx context.Context, base *TableMetadata, paths map[string]bool) error {
	snap, err := base.CurrentSnapshot()
	if err != nil {
		return err
	}
	if snap == nil {
		return errors.New(errors.CommonValidationFailure, "cannot overwrite/delete from a table with no snapshot", nil)
	}
	live, err := tx.liveFilePaths(ctx, base)
	if err != nil {
		return err
	}
	for p := range paths {
		if !live[p] {
			return errors.New(errors.CommonValidationFailure, "file targeted by overwrite/delete is no longer present in the table", nil).
				AddContext("file_path", p)
		}
	}
	return nil
}

// checkNoDuplicateFiles aborts with ValidationFailure if any of paths is
// already live in base's current snapshot — fast_append/append must never
// silently re-add a file the table already has.
func (tx *Transaction) checkNoDuplicateFiles(ctx context.Context, base *TableMetadata, paths map[string]bool) error {
	live, err := tx.liveFilePaths(ctx, base)
	if err != nil {
		return err
	}
	for p := range paths {
		if live[p] {
			return errors.New(errors.CommonValidationFailure, "file is already present in the table", nil).
				AddContext("file_path", p)
		}
	}
	return nil
}

// buildMetadata constructs the new TableMetadata this transaction would
// commit against base, writing any new manifest/manifest-list files to
// the table's object store along the way. Pure metadata fields
// (schema/spec/properties) are applied first; a new snapshot is appended
// only if the transaction staged file changes.
func (tx *Transaction) buildMetadata(ctx context.Context, base *TableMetadata, nowMs int64) (*TableMetadata, error) {
	next := base

	if tx.schemaUpdate != nil {
		cur, err := next.CurrentSchema()
		if err != nil {
			return nil, err
		}
		if err := iceberg.ValidateEvolution(cur, tx.schemaUpdate); err != nil {
			return nil, errors.New(errors.CommonSchemaMismatch, "schema update is not a legal evolution", err)
		}
		for _, nf := range tx.schemaUpdate.Fields {
			if _, live := cur.FieldByID(nf.ID); live {
				continue
			}
			for _, old := range next.Schemas {
				if of, ok := old.FieldByID(nf.ID); ok && !of.Type.Equal(nf.Type) {
					return nil, errors.New(errors.CommonSchemaMismatch, "schema update reuses a dropped field id with a different type", nil).
						AddContext("field_id", nf.ID)
				}
			}
		}
		next = next.WithSchema(tx.schemaUpdate)
	}
	if tx.specUpdate != nil {
		next = next.WithPartitionSpec(tx.specUpdate)
	}
	if len(tx.setProps) > 0 {
		next = next.WithProperties(tx.setProps)
	}
	if len(tx.removeProps) > 0 {
		next = next.WithoutProperties(tx.removeProps)
	}

	if len(tx.appends) == 0 && len(tx.deletes) == 0 {
		return tx.appendMetadataLogEntry(next, nowMs), nil
	}

	schema, err := next.CurrentSchema()
	if err != nil {
		return nil, err
	}
	spec, err := next.DefaultSpec()
	if err != nil {
		return nil, err
	}

	var parentID *int64
	var seq int64
	if cs, err := next.CurrentSnapshot(); err == nil && cs != nil {
		id := cs.SnapshotID
		parentID = &id
		seq = cs.SequenceNumber
	}
	newSeq := seq + 1
	snapshotID := newSnapshotID(nowMs, next)

	var manifestList []ManifestFile

	if len(tx.appends) > 0 {
		entries := make([]ManifestEntry, 0, len(tx.appends))
		for _, f := range tx.appends {
			entries = append(entries, ManifestEntry{Status: EntryAdded, SnapshotID: &snapshotID, SequenceNumber: &newSeq, DataFile: f})
		}
		header := ManifestHeader{Schema: schema, PartitionSpec: spec, FormatVersion: FormatVersion, Content: ContentData}
		manifestBytes, manifestSummary, err := WriteManifest(header, entries)
		if err != nil {
			return nil, err
		}
		manifestPath := fmt.Sprintf("%s/metadata/manifest-%s.avro", next.Location, utils.GenerateULIDString())
		if err := tx.table.Store.Put(ctx, manifestPath, manifestBytes); err != nil {
			return nil, err
		}
		manifestSummary.ManifestPath = manifestPath
		manifestSummary.ManifestLength = int64(len(manifestBytes))
		manifestSummary.AddedSnapshotID = snapshotID
		manifestSummary.SequenceNumber = &newSeq
		manifestSummary.MinSequenceNumber = &newSeq
		manifestList = append(manifestList, manifestSummary)
	}

	if prev, err := next.CurrentSnapshot(); err == nil && prev != nil {
		prior, err := tx.readManifestList(ctx, prev.ManifestListPath)
		if err != nil {
			return nil, err
		}
		carried, err := tx.rewriteManifestsForDeletes(ctx, next, prior, pathSet(tx.deletes), snapshotID, newSeq)
		if err != nil {
			return nil, err
		}
		manifestList = append(manifestList, carried...)
	}
	listBytes, err := WriteManifestList(manifestList)
	if err != nil {
		return nil, err
	}
	listPath := fmt.Sprintf("%s/metadata/snap-%s.avro", next.Location, utils.GenerateULIDString())
	if err := tx.table.Store.Put(ctx, listPath, listBytes); err != nil {
		return nil, err
	}

	snap := Snapshot{
		SnapshotID:       snapshotID,
		ParentSnapshotID: parentID,
		SequenceNumber:   newSeq,
		TimestampMs:      nowMs,
		ManifestListPath: listPath,
		Summary:          map[string]string{"operation": tx.operation},
		SchemaID:         &schema.SchemaID,
	}
	return tx.appendMetadataLogEntry(next.WithSnapshot(snap), nowMs), nil
}

// appendMetadataLogEntry records the metadata path this transaction is
// about to replace, so a reader of the new document can see where the
// previous version lived. Skipped for a table not yet registered with a
// catalog (MetadataPath is empty).
func (tx *Transaction) appendMetadataLogEntry(next *TableMetadata, nowMs int64) *TableMetadata {
	if tx.table.MetadataPath == "" {
		return next
	}
	out := next.clone()
	out.MetadataLog = append(append([]MetadataLogEntry{}, out.MetadataLog...),
		MetadataLogEntry{TimestampMs: nowMs, MetadataFilePath: tx.table.MetadataPath})
	return out
}

func (tx *Transaction) readManifestList(ctx context.Context, path string) ([]ManifestFile, error) {
	return tx.table.readManifestList(ctx, path)
}

// rewriteManifestsForDeletes walks prior (the manifest list this
// transaction's new snapshot is built on top of) and, for every manifest
// that holds a still-live entry for one of deletePaths, rewrites that
// manifest with the targeted entry's status flipped to EntryDeleted —
// Files/PlanScan union every manifest's non-deleted entries with no
// cross-manifest override, so a delete/overwrite can only take effect by
// editing the manifest that actually carries the targeted file, not by
// appending a second "deleted" entry for it elsewhere while the original
// "added"/"existing" entry is carried forward unchanged. Manifests with no
// targeted entries are carried forward by reference, untouched.
func (tx *Transaction) rewriteManifestsForDeletes(ctx context.Context, next *TableMetadata, prior []ManifestFile, deletePaths map[string]bool, snapshotID, newSeq int64) ([]ManifestFile, error) {
	if len(deletePaths) == 0 {
		return prior, nil
	}
	out := make([]ManifestFile, 0, len(prior))
	for _, mf := range prior {
		header, entries, err := tx.table.readManifest(ctx, mf.ManifestPath)
		if err != nil {
			return nil, err
		}
		matched := false
		rewritten := make([]ManifestEntry, 0, len(entries))
		for _, e := range entries {
			if e.Status != EntryDeleted && deletePaths[e.DataFile.FilePath] {
				matched = true
				e.Status = EntryDeleted
				e.SnapshotID = &snapshotID
				e.SequenceNumber = &newSeq
			}
			rewritten = append(rewritten, e)
		}
		if !matched {
			out = append(out, mf)
			continue
		}
		manifestBytes, summary, err := WriteManifest(header, rewritten)
		if err != nil {
			return nil, err
		}
		manifestPath := fmt.Sprintf("%s/metadata/manifest-%s.avro", next.Location, utils.GenerateULIDString())
		if err := tx.table.Store.Put(ctx, manifestPath, manifestBytes); err != nil {
			return nil, err
		}
		summary.ManifestPath = manifestPath
		summary.ManifestLength = int64(len(manifestBytes))
		summary.AddedSnapshotID = snapshotID
		summary.SequenceNumber = &newSeq
		summary.MinSequenceNumber = mf.MinSequenceNumber
		if summary.MinSequenceNumber == nil {
			summary.MinSequenceNumber = &newSeq
		}
		out = append(out, summary)
	}
	return out, nil
}

// newSnapshotID derives a snapshot id deterministic in tests: a function
// of the commit timestamp and the table's current sequence number, rather
// than a random value, so callers constructing fixtures can predict it.
func newSnapshotID(nowMs int64, base *TableMetadata) int64 {
	return nowMs*1000 + base.LastSequenceNumber + 1
}
