package table

import (
	"github.com/lakeformat/iceberg"
)

// ColumnStats adapts one DataFile's per-column stat maps into the
// iceberg.ColumnStats interface the predicate evaluator reads during
// file-level pruning.
type ColumnStats struct {
	fieldID int32
	typ     iceberg.LogicalType
	file    DataFile
}

// NewColumnStats builds the pruning view of fieldID/typ over file.
func NewColumnStats(fieldID int32, typ iceberg.LogicalType, file DataFile) ColumnStats {
	return ColumnStats{fieldID: fieldID, typ: typ, file: file}
}

func (c ColumnStats) Lower() (iceberg.Value, bool) {
	raw, ok := c.file.LowerBounds[c.fieldID]
	if !ok {
		return nil, false
	}
	v, err := iceberg.DecodeBound(c.typ, raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c ColumnStats) Upper() (iceberg.Value, bool) {
	raw, ok := c.file.UpperBounds[c.fieldID]
	if !ok {
		return nil, false
	}
	v, err := iceberg.DecodeBound(c.typ, raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c ColumnStats) ContainsNull() bool {
	n, ok := c.file.NullValueCounts[c.fieldID]
	return ok && n > 0
}

func (c ColumnStats) ContainsNaN() bool {
	n, ok := c.file.NanValueCounts[c.fieldID]
	return ok && n > 0
}

func (c ColumnStats) NullCount() *int64 {
	if n, ok := c.file.NullValueCounts[c.fieldID]; ok {
		return &n
	}
	return nil
}

func (c ColumnStats) RowCount() *int64 {
	n := c.file.RecordCount
	return &n
}

func (c ColumnStats) Unknown() bool {
	_, lok := c.file.LowerBounds[c.fieldID]
	_, uok := c.file.UpperBounds[c.fieldID]
	return !lok && !uok
}

// NewStatsProvider builds the per-file iceberg.StatsProvider Expr.Eval
// needs, resolving column names to field IDs against schema.
func NewStatsProvider(schema *iceberg.Schema, file DataFile) iceberg.StatsProvider {
	return func(column string) (iceberg.ColumnStats, bool) {
		f, ok := schema.FieldByName(column)
		if !ok {
			return iceberg.ColumnStats{}, false
		}
		cs := NewColumnStats(f.ID, f.Type, file)
		lower, hasLower := cs.Lower()
		upper, hasUpper := cs.Upper()
		out := iceberg.ColumnStats{
			ContainsNull: cs.ContainsNull(),
			ContainsNaN:  cs.ContainsNaN(),
			NullCount:    cs.NullCount(),
			RowCount:     cs.RowCount(),
			Unknown:      cs.Unknown(),
		}
		if hasLower {
			out.Lower = lower
		}
		if hasUpper {
			out.Upper = upper
		}
		return out, true
	}
}
