package client

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestRowsDecodeTypedColumns(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "flag", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "amount", Type: &arrow.Decimal128Type{Precision: 10, Scale: 2}},
		{Name: "created", Type: &arrow.TimestampType{Unit: arrow.Microsecond}},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.BooleanBuilder).Append(true)
	b.Field(0).(*array.BooleanBuilder).AppendNull()
	b.Field(1).(*array.Decimal128Builder).Append(decimal128.FromI64(12345))
	b.Field(1).(*array.Decimal128Builder).Append(decimal128.FromI64(-7))
	b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(1_700_000_000_000_000)) // 2023-11-14T22:13:20Z
	b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(0))
	b.Field(3).(*array.Float64Builder).Append(0.5)
	b.Field(3).(*array.Float64Builder).Append(1.5)

	rec := b.NewRecordBatch()
	result := newQueryResult([]arrow.RecordBatch{rec}, nil)
	defer result.Release()

	rows := result.Rows()
	if cols := rows.Columns(); len(cols) != 4 || cols[1] != "amount" {
		t.Fatalf("Columns() = %v", cols)
	}

	if !rows.Next() {
		t.Fatal("Next() = false on first row")
	}
	var flag, amount, created, score interface{}
	if err := rows.Scan(&flag, &amount, &created, &score); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if flag != true {
		t.Errorf("flag = %v", flag)
	}
	if amount != "123.45" {
		t.Errorf("amount = %v, want 123.45", amount)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if created != want {
		t.Errorf("created = %v, want %v", created, want)
	}
	if score != 0.5 {
		t.Errorf("score = %v", score)
	}

	if !rows.Next() {
		t.Fatal("Next() = false on second row")
	}
	if err := rows.Scan(&flag, &amount, &created, &score); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if flag != nil {
		t.Errorf("null flag scanned as %v, want nil", flag)
	}
	if amount != "-0.07" {
		t.Errorf("amount = %v, want -0.07", amount)
	}

	if rows.Next() {
		t.Error("Next() = true past the last row")
	}
}

func TestRowsSkipEmptyBatches(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)

	build := func(ids []int64) arrow.RecordBatch {
		b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
		defer b.Release()
		b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
		return b.NewRecordBatch()
	}

	result := newQueryResult([]arrow.RecordBatch{
		build(nil), build([]int64{7}), build(nil), build([]int64{8}),
	}, nil)
	defer result.Release()

	rows := result.Rows()
	var got []int64
	for rows.Next() {
		var id interface{}
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		got = append(got, id.(int64))
	}
	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Errorf("scanned %v, want [7 8]", got)
	}
}

func TestScanRejectsWrongArity(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)

	result := newQueryResult([]arrow.RecordBatch{b.NewRecordBatch()}, nil)
	defer result.Release()

	rows := result.Rows()
	if !rows.Next() {
		t.Fatal("Next() = false")
	}
	var a, extra interface{}
	if err := rows.Scan(&a, &extra); err == nil {
		t.Error("Scan with too many destinations succeeded")
	}
}
