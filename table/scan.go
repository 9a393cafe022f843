package table

import (
	"context"
	"strings"

	"github.com/lakeformat/iceberg"
)

// ScanFile is one physical file a scan plan selected, with the partition
// values that grouped it.
type ScanFile struct {
	Location     string
	Size         int64
	LastModified int64
	Partition    *iceberg.PartitionValues
}

// ScanStatistics summarizes a plan's selected files: total row count is
// computed as added+existing minus deleted across every manifest that
// survived stage-1 (manifest-level) pruning, never a placeholder
// constant. IsExact is true only when stage-2 (file-level) pruning
// excluded nothing from those surviving manifests, so the manifest-level
// aggregate covers exactly the files the plan selected (rows of entries
// with deleted status are subtracted from it); it is false the moment any individual file gets pruned by its own
// column stats, since the manifest-level counts then overstate the
// selected set.
type ScanStatistics struct {
	TotalFiles int
	TotalRows  int64
	IsExact    bool
}

// ScanPlan is the result of Table.PlanScan: the resolved schema
// (optionally projected), the partition-spec's column names, files grouped
// by identical partition-value tuple, and aggregate statistics.
type ScanPlan struct {
	Schema            *iceberg.Schema
	PartitionColumns  []string
	FileGroups        [][]ScanFile
	Statistics        ScanStatistics
}

// ObjectStoreURL renders the registration URL a host query engine would
// use to address this table's object store: "tableformat://" followed by
// the table location with every "/" replaced by "-", so a single engine
// session can register many tables without a collision on scheme alone.
func ObjectStoreURL(location string) string {
	return "tableformat://" + strings.ReplaceAll(location, "/", "-")
}

// PlanScan resolves the set of live data files matching filters, pruning
// first at the manifest level (via each ManifestFile's FieldSummary) and
// then at the data-file level (via each DataFile's own column stats),
// grouping survivors by identical partition-value tuple. Statistics are
// aggregated only from manifests that survived stage-1 pruning, and
// IsExact reports whether stage-2 pruning dropped any file from those
// manifests.
func (t *Table) PlanScan(ctx context.Context, filters iceberg.Expr, limit *int64) (*ScanPlan, error) {
	schema, err := t.Metadata.CurrentSchema()
	if err != nil {
		return nil, err
	}
	spec, err := t.Metadata.DefaultSpec()
	if err != nil {
		return nil, err
	}
	if filters == nil {
		filters = iceberg.AlwaysTrue{}
	}

	plan := &ScanPlan{Schema: schema, PartitionColumns: partitionColumnNames(spec)}

	snap, err := t.Metadata.CurrentSnapshot()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return plan, nil
	}

	manifestFiles, err := t.readManifestList(ctx, snap.ManifestListPath)
	if err != nil {
		return nil, err
	}

	// nil when a spec source field is missing from schema; manifests are
	// then not pruned by their partition bounds.
	resultTypes, _ := spec.ResultSchema(schema)

	groups := make(map[string][]ScanFile)
	var order []string
	var surviving []ManifestFile
	isExact := true

	for _, mf := range manifestFiles {
		if mf.Content != ContentData {
			continue
		}
		if !manifestMayMatch(mf, spec, resultTypes, filters) {
			continue
		}
		surviving = append(surviving, mf)
		header, entries, err := t.readManifest(ctx, mf.ManifestPath)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Status == EntryDeleted {
				continue
			}
			df := e.DataFile
			if !fileMayMatch(header.Schema, df, filters) {
				isExact = false
				continue
			}
			key := df.Partition.Key()
			sf := ScanFile{Location: df.FilePath, Size: df.FileSizeInBytes, Partition: df.Partition}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], sf)
		}
	}

	for _, k := range order {
		plan.FileGroups = append(plan.FileGroups, groups[k])
		plan.Statistics.TotalFiles += len(groups[k])
	}
	plan.Statistics.TotalRows = aggregateRowCount(surviving)
	plan.Statistics.IsExact = isExact
	_ = limit // limit is advisory to the caller's downstream row reader; plan still enumerates every matching file.
	return plan, nil
}

func partitionColumnNames(spec *iceberg.PartitionSpec) []string {
	out := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		out[i] = f.Name
	}
	return out
}

// manifestMayMatch evaluates filters against the manifest's FieldSummary,
// the coarse manifest-level pruning stage. filters is expected to already
// reference partition-column names where it means to prune on a partition
// field — callers that start from source-column predicates should run
// iceberg.ProjectThroughTransform per partition field first.
func manifestMayMatch(mf ManifestFile, spec *iceberg.PartitionSpec, resultTypes []iceberg.LogicalType, filters iceberg.Expr) bool {
	stats := func(column string) (iceberg.ColumnStats, bool) {
		for i, f := range spec.Fields {
			if f.Name != column || i >= len(mf.Partitions) {
				continue
			}
			fs := mf.Partitions[i]
			out := iceberg.ColumnStats{ContainsNull: fs.ContainsNull, Unknown: fs.LowerBound == nil && fs.UpperBound == nil}
			if fs.ContainsNaN != nil {
				out.ContainsNaN = *fs.ContainsNaN
			}
			if i < len(resultTypes) && fs.LowerBound != nil {
				if v, err := iceberg.DecodeBound(resultTypes[i], fs.LowerBound); err == nil {
					out.Lower = v
				}
			}
			if i < len(resultTypes) && fs.UpperBound != nil {
				if v, err := iceberg.DecodeBound(resultTypes[i], fs.UpperBound); err == nil {
					out.Upper = v
				}
			}
			return out, true
		}
		return iceberg.ColumnStats{}, false
	}
	return filters.Eval(stats)
}

func fileMayMatch(schema *iceberg.Schema, df DataFile, filters iceberg.Expr) bool {
	return filters.Eval(NewStatsProvider(schema, df))
}

// aggregateRowCount sums added+existing-deleted rows across manifestFiles
// — callers pass only the manifests that survived stage-1 pruning, so a
// manifest excluded by manifestMayMatch never contributes to the total.
func aggregateRowCount(manifestFiles []ManifestFile) int64 {
	var total int64
	for _, mf := range manifestFiles {
		if mf.Content != ContentData {
			continue
		}
		if mf.AddedRowsCount != nil {
			total += *mf.AddedRowsCount
		}
		if mf.ExistingRowsCount != nil {
			total += *mf.ExistingRowsCount
		}
		if mf.DeletedRowsCount != nil {
			total -= *mf.DeletedRowsCount
		}
	}
	return total
}
