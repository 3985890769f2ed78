package client

import (
	"context"
	"errors"
	"testing"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport/mock"
)

func TestBulkLoadBatching(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBulkDoneCount(5)
	s := newTestSession(t, m)

	total, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows: RowsFromSlices([][]interface{}{
			{1, "ada"}, {2, "grace"}, {3, "edsger"}, {4, "barbara"}, {5, "tony"},
		}),
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if total != 5 {
		t.Errorf("expected server count 5, got %d", total)
	}

	batches := m.GetSentBatches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	wantLens := []int{2, 2, 1}
	for i, b := range batches {
		if len(b) != wantLens[i] {
			t.Errorf("batch %d: expected %d rows, got %d", i, wantLens[i], len(b))
		}
	}

	targets := m.GetBulkTargets()
	if len(targets) != 1 || targets[0] != "dbo.people" {
		t.Errorf("expected load against dbo.people, got %v", targets)
	}
	if s.State() != READY {
		t.Errorf("expected READY after load, got %s", s.State())
	}
}

func TestBulkLoadSingleFinalBatch(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	total, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1}, {2}, {3}}),
	})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 rows, got %d", total)
	}
	if batches := m.GetSentBatches(); len(batches) != 1 {
		t.Errorf("expected one unsegmented batch, got %d", len(batches))
	}
}

func TestBulkLoadBatchValidationError(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBatchMessages(1, serverMessage(2601, 16, "duplicate key"))
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table:     "dbo.people",
		Rows:      RowsFromSlices([][]interface{}{{1}, {2}, {3}, {4}, {5}}),
		BatchSize: 2,
	})
	se, ok := err.(*ServerError)
	if !ok {
		t.Fatalf("expected ServerError, got %T", err)
	}
	if got := se.Details["batch"]; got != 1 {
		t.Errorf("expected failing batch index 1, got %v", got)
	}

	// The failing batch stopped the load; the third batch never went out.
	if batches := m.GetSentBatches(); len(batches) != 2 {
		t.Errorf("expected 2 transmitted batches, got %d", len(batches))
	}
	if !s.Usable() {
		t.Error("expected session usable after validation failure")
	}
}

func TestBulkLoadTemporaryTable(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table:      "#scratch",
		Rows:       RowsFromSlices([][]interface{}{{1}}),
		AutoEncode: true,
	})
	te, ok := err.(*UnsupportedTargetError)
	if !ok {
		t.Fatalf("expected UnsupportedTargetError, got %T", err)
	}
	if te.Code != "E_TARGET_TEMPORARY" {
		t.Errorf("expected E_TARGET_TEMPORARY, got %s", te.Code)
	}

	// Failure precedes any traffic: no catalog query, no bulk session.
	if got := m.GetInvokeCallCount(); got != 0 {
		t.Errorf("expected no catalog round-trip, got %d", got)
	}
	if got := m.GetBulkCallCount(); got != 0 {
		t.Errorf("expected no bulk session, got %d", got)
	}
}

func TestBulkLoadAutoEncode(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithResult(mock.Result{Sets: []mock.ResultSet{{
		Columns: []protocol.Column{
			col("COLUMN_NAME", protocol.TypeNVarChar),
			col("DATA_TYPE", protocol.TypeNVarChar),
			col("CodePage", protocol.TypeInt),
		},
		Rows: [][]protocol.Value{
			{wire(t, protocol.NVarChar("name")), wire(t, protocol.NVarChar("nvarchar")), nullValue()},
			{wire(t, protocol.NVarChar("city")), wire(t, protocol.NVarChar("varchar")), wire(t, protocol.Int(1252))},
		},
	}}})
	m.WithBulkColumns("dbo.people", []protocol.Column{
		{Name: "name", Type: protocol.TypeNVarChar},
		{Name: "city", Type: protocol.TypeVarChar},
	})
	s := newTestSession(t, m)

	total, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows: RowsFromMaps([]map[string]interface{}{
			{"name": "björk", "city": "göteborg"},
			{"name": "ada"},
		}),
		AutoEncode: true,
	})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 rows, got %d", total)
	}

	batches := m.GetSentBatches()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch of 2 rows, got %+v", batches)
	}

	first := batches[0][0]
	if first[0].Type != protocol.TypeNVarChar {
		t.Errorf("expected wide encoding for nvarchar column, got %s", first[0].Type)
	}
	// UTF-16LE: 2 bytes per character, o-umlaut at code unit 2.
	if len(first[0].Data) != 10 {
		t.Errorf("expected 10 bytes of UTF-16, got %d", len(first[0].Data))
	}
	if first[0].Data[4] != 0xF6 || first[0].Data[5] != 0x00 {
		t.Errorf("expected UTF-16 o-umlaut, got % x", first[0].Data[4:6])
	}

	if first[1].Type != protocol.TypeVarChar {
		t.Errorf("expected single-byte encoding for varchar column, got %s", first[1].Type)
	}
	// cp1252: one byte per character, o-umlaut as 0xF6.
	if len(first[1].Data) != 8 {
		t.Errorf("expected 8 bytes of cp1252, got %d", len(first[1].Data))
	}
	if first[1].Data[1] != 0xF6 {
		t.Errorf("expected cp1252 o-umlaut, got %#x", first[1].Data[1])
	}

	// The absent key loads as a NULL of the column's wire type.
	second := batches[0][1]
	if !second[1].Null {
		t.Error("expected NULL for absent city")
	}
	if second[1].Type != protocol.TypeVarChar {
		t.Errorf("expected column type on NULL, got %s", second[1].Type)
	}
}

func TestBulkLoadWrappedValueBypassesAutoEncode(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBulkColumns("dbo.people", []protocol.Column{
		{Name: "city", Type: protocol.TypeVarChar, Codepage: 1252},
	})
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows: RowsFromSlices([][]interface{}{
			{protocol.NVarChar("göteborg")},
		}),
	})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}

	sent := m.GetSentBatches()[0][0][0]
	if sent.Type != protocol.TypeNVarChar {
		t.Errorf("expected wrapped value sent as wrapped, got %s", sent.Type)
	}
}

func TestBulkLoadUnknownMapKey(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBulkColumns("dbo.people", []protocol.Column{
		{Name: "id", Type: protocol.TypeInt},
	})
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromMaps([]map[string]interface{}{{"bogus": 1}}),
	})
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_ROW_SHAPE" {
		t.Errorf("expected E_ROW_SHAPE, got %s", ue.Code)
	}
}

func TestBulkLoadPositionalWidthMismatch(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBulkColumns("dbo.people", []protocol.Column{
		{Name: "id", Type: protocol.TypeInt},
		{Name: "name", Type: protocol.TypeNVarChar},
	})
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1, "ada", "extra"}}),
	})
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_ROW_SHAPE" {
		t.Errorf("expected E_ROW_SHAPE, got %s", ue.Code)
	}
	if got := ue.Details["row"]; got != 0 {
		t.Errorf("expected failing row index 0, got %v", got)
	}
}

func TestBulkLoadFirstRowFixesWidth(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1, "ada"}, {2}}),
	})
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_ROW_SHAPE" {
		t.Errorf("expected E_ROW_SHAPE, got %s", ue.Code)
	}
	if got := ue.Details["row"]; got != 1 {
		t.Errorf("expected failing row index 1, got %v", got)
	}
}

func TestBulkLoadMapRowsWithoutLayout(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromMaps([]map[string]interface{}{{"id": 1}}),
	})
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_BULK_NO_LAYOUT" {
		t.Errorf("expected E_BULK_NO_LAYOUT, got %s", ue.Code)
	}
}

func TestBulkLoadNilRowSource(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{Table: "dbo.people"})
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_BULK_NO_ROWS" {
		t.Errorf("expected E_BULK_NO_ROWS, got %s", ue.Code)
	}
	if got := m.GetBulkCallCount(); got != 0 {
		t.Errorf("expected no bulk session, got %d", got)
	}
}

func TestBulkLoadTableLock(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table:     "dbo.people",
		Rows:      RowsFromSlices([][]interface{}{{1}}),
		TableLock: true,
	})
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}

	opts := m.GetBulkOptions()
	if len(opts) != 1 || !opts[0].TableLock {
		t.Errorf("expected table lock forwarded, got %+v", opts)
	}
}

func TestBulkLoadBeginFailurePoisons(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithBulkError(errors.New("pipe broken"))
	s := newTestSession(t, m)

	_, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1}}),
	})
	if _, ok := err.(*FatalConnectionError); !ok {
		t.Fatalf("expected FatalConnectionError, got %T", err)
	}
	if s.Usable() {
		t.Error("expected session unusable after bulk transport failure")
	}
}

func TestBulkLoadDefaultBatchSizeFromOptions(t *testing.T) {
	m := mock.NewMockTransport()
	opts := testOptions()
	opts.BulkBatchSize = 2
	s, err := Connect(context.Background(), testFactory(m), opts)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1}, {2}, {3}}),
	}); err != nil {
		t.Fatalf("bulk load: %v", err)
	}

	if batches := m.GetSentBatches(); len(batches) != 2 {
		t.Errorf("expected session default batching, got %d batches", len(batches))
	}
}
