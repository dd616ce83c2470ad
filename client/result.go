package client

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
)

// AnalyzeResult describes a plan's static properties as reported by the
// engine. Produced fresh per Analyze call and never mutated afterwards.
type AnalyzeResult struct {
	Schema        *arrow.Schema
	ExplainString string
	TreeString    string
	IsLocal       bool
	IsStreaming   bool
	InputFiles    []string
}

// MetricValue is one named execution metric sample.
type MetricValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	// Type tags the sample, e.g. "counter" or "gauge".
	Type string `json:"type"`
}

// PlanMetrics carries the execution metrics of one plan node.
type PlanMetrics struct {
	Name         string        `json:"name"`
	PlanID       int64         `json:"plan_id"`
	ParentPlanID int64         `json:"parent_plan_id"`
	Metrics      []MetricValue `json:"metrics"`
}

// QueryResult is the reassembled output of one execute-and-fetch call: all
// streamed batches concatenated into a single table, plus any execution
// metrics the stream carried.
type QueryResult struct {
	table   arrow.Table
	batches []arrow.RecordBatch
	metrics []PlanMetrics
}

func newQueryResult(batches []arrow.RecordBatch, metrics []PlanMetrics) *QueryResult {
	return &QueryResult{
		table:   array.NewTableFromRecords(batches[0].Schema(), batches),
		batches: batches,
		metrics: metrics,
	}
}

// Table returns the result as a single arrow table. The table is valid
// until Release is called.
func (r *QueryResult) Table() arrow.Table { return r.table }

// Metrics returns the plan metrics reported by the engine, if any.
func (r *QueryResult) Metrics() []PlanMetrics { return r.metrics }

// NumRows returns the total row count across all batches.
func (r *QueryResult) NumRows() int64 { return r.table.NumRows() }

// Rows returns a scanner over the result rows. The scanner borrows the
// result's batches; do not Release the result while scanning.
func (r *QueryResult) Rows() *Rows {
	return &Rows{schema: r.table.Schema(), batches: r.batches, batchRow: -1}
}

// Release frees the underlying arrow memory.
func (r *QueryResult) Release() {
	r.table.Release()
	for _, b := range r.batches {
		b.Release()
	}
	r.batches = nil
}

// Rows iterates a fetched result row by row, decoding arrow columns into Go
// values.
type Rows struct {
	schema  *arrow.Schema
	batches []arrow.RecordBatch

	batchIdx int
	batchRow int // current row index within the current batch
}

// Columns returns the result column names in schema order.
func (r *Rows) Columns() []string {
	names := make([]string, r.schema.NumFields())
	for i := 0; i < r.schema.NumFields(); i++ {
		names[i] = r.schema.Field(i).Name
	}
	return names
}

// Next advances to the next row, skipping empty batches.
func (r *Rows) Next() bool {
	for r.batchIdx < len(r.batches) {
		batch := r.batches[r.batchIdx]
		if r.batchRow+1 < int(batch.NumRows()) {
			r.batchRow++
			return true
		}
		r.batchIdx++
		r.batchRow = -1
	}
	return false
}

// Scan copies the current row into dest. Every destination must be an
// *interface{}; arrow nulls scan as nil.
func (r *Rows) Scan(dest ...any) error {
	if r.batchIdx >= len(r.batches) || r.batchRow < 0 {
		return fmt.Errorf("scan: no current row")
	}
	batch := r.batches[r.batchIdx]
	if len(dest) != int(batch.NumCols()) {
		return fmt.Errorf("scan: expected %d destinations, got %d", batch.NumCols(), len(dest))
	}
	for i := 0; i < int(batch.NumCols()); i++ {
		ptr, ok := dest[i].(*interface{})
		if !ok {
			return fmt.Errorf("scan: destination %d must be *interface{}", i)
		}
		*ptr = extractValue(batch.Column(i), r.batchRow)
	}
	return nil
}

// extractValue extracts a Go value from an arrow array at the given row.
func extractValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int8:
		return arr.Value(row)
	case *array.Int16:
		return arr.Value(row)
	case *array.Int32:
		return arr.Value(row)
	case *array.Int64:
		return arr.Value(row)
	case *array.Uint8:
		return arr.Value(row)
	case *array.Uint16:
		return arr.Value(row)
	case *array.Uint32:
		return arr.Value(row)
	case *array.Uint64:
		return arr.Value(row)
	case *array.Float32:
		return arr.Value(row)
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.LargeString:
		return arr.Value(row)
	case *array.Binary:
		return arr.Value(row)
	case *array.LargeBinary:
		return arr.Value(row)
	case *array.Date32:
		days := int64(arr.Value(row))
		return time.Unix(days*86400, 0).UTC()
	case *array.Timestamp:
		ts := arr.DataType().(*arrow.TimestampType)
		return timestampToTime(arr.Value(row), ts.Unit)
	case *array.Time64:
		micros := int64(arr.Value(row))
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(micros) * time.Microsecond)
	case *array.Decimal128:
		return decimalToString(arr.Value(row), arr.DataType().(*arrow.Decimal128Type))
	case *array.List:
		start, end := arr.ValueOffsets(row)
		child := arr.ListValues()
		elems := make([]any, 0, end-start)
		for i := int(start); i < int(end); i++ {
			elems = append(elems, extractValue(child, i))
		}
		return elems
	default:
		// Fallback: use string representation
		return arr.ValueStr(row)
	}
}

func timestampToTime(val arrow.Timestamp, unit arrow.TimeUnit) time.Time {
	v := int64(val)
	switch unit {
	case arrow.Second:
		return time.Unix(v, 0).UTC()
	case arrow.Millisecond:
		return time.Unix(v/1000, (v%1000)*1e6).UTC()
	case arrow.Microsecond:
		return time.Unix(v/1e6, (v%1e6)*1000).UTC()
	case arrow.Nanosecond:
		return time.Unix(v/1e9, v%1e9).UTC()
	default:
		return time.Unix(v/1e6, (v%1e6)*1000).UTC()
	}
}

// decimalToString renders a decimal128 with its scale applied, e.g. scale 2
// turns 12345 into "123.45".
func decimalToString(val decimal128.Num, dt *arrow.Decimal128Type) interface{} {
	bi := val.BigInt()
	if dt.Scale == 0 {
		return bi
	}
	str := bi.String()
	neg := false
	if len(str) > 0 && str[0] == '-' {
		neg = true
		str = str[1:]
	}
	scale := int(dt.Scale)
	for len(str) <= scale {
		str = "0" + str
	}
	result := str[:len(str)-scale] + "." + str[len(str)-scale:]
	if neg {
		result = "-" + result
	}
	return result
}
