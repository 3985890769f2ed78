package mock

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

func TestMockTransportScriptedResult(t *testing.T) {
	m := NewMockTransport().WithResult(Result{
		Sets: []ResultSet{{
			Columns: []protocol.Column{{Name: "n", Type: protocol.TypeInt}},
			Rows: [][]protocol.Value{
				{{Data: []byte{1, 0, 0, 0}}},
				{{Data: []byte{2, 0, 0, 0}}},
			},
		}},
		RowCount: 2,
	})

	stream, err := m.InvokeRPC(context.Background(), "sp_executesql", nil)
	if err != nil {
		t.Fatalf("InvokeRPC failed: %v", err)
	}
	defer stream.Close()

	if len(stream.Columns()) != 1 || stream.Columns()[0].Name != "n" {
		t.Errorf("Expected scripted column metadata, got %+v", stream.Columns())
	}

	rows := 0
	for {
		_, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		rows++
	}
	if rows != 2 {
		t.Errorf("Expected 2 rows, got %d", rows)
	}
	if stream.RowsAffected() != 2 {
		t.Errorf("Expected rows affected 2, got %d", stream.RowsAffected())
	}
	if m.GetInvokeCallCount() != 1 {
		t.Errorf("Expected 1 invocation, got %d", m.GetInvokeCallCount())
	}
}

func TestMockTransportUnscriptedInvocationIsEmpty(t *testing.T) {
	m := NewMockTransport()

	stream, err := m.InvokeRPC(context.Background(), "sp_executesql", nil)
	if err != nil {
		t.Fatalf("InvokeRPC failed: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF from empty reply, got %v", err)
	}
}

func TestMockTransportMultipleResultSets(t *testing.T) {
	m := NewMockTransport().WithResult(Result{
		Sets: []ResultSet{
			{Columns: []protocol.Column{{Name: "a", Type: protocol.TypeInt}}},
			{Columns: []protocol.Column{{Name: "b", Type: protocol.TypeVarChar}}},
		},
	})

	stream, err := m.InvokeRPC(context.Background(), "sp_executesql", nil)
	if err != nil {
		t.Fatalf("InvokeRPC failed: %v", err)
	}
	defer stream.Close()

	more, err := stream.NextResultSet()
	if err != nil || !more {
		t.Fatalf("Expected a second result set, got more=%v err=%v", more, err)
	}
	if stream.Columns()[0].Name != "b" {
		t.Errorf("Expected second set columns, got %+v", stream.Columns())
	}
	more, err = stream.NextResultSet()
	if err != nil || more {
		t.Errorf("Expected no third result set, got more=%v err=%v", more, err)
	}
}

func TestMockTransportBulkCapture(t *testing.T) {
	cols := []protocol.Column{
		{Name: "Id", Type: protocol.TypeInt},
		{Name: "Label", Type: protocol.TypeVarChar, Codepage: 1252},
	}
	m := NewMockTransport().
		WithBulkColumns("dbo.Items", cols).
		WithBatchMessages(1, protocol.Message{Number: 2601, Severity: 14, Description: "duplicate key"})

	bulk, err := m.BulkBegin(context.Background(), "dbo.Items", transport.BulkOptions{TableLock: true})
	if err != nil {
		t.Fatalf("BulkBegin failed: %v", err)
	}
	if len(bulk.Columns()) != 2 {
		t.Fatalf("Expected scripted bulk columns, got %+v", bulk.Columns())
	}

	row := []protocol.Parameter{{Type: protocol.TypeInt, Data: []byte{1, 0, 0, 0}}}
	msgs, err := bulk.SendBatch(context.Background(), [][]protocol.Parameter{row, row})
	if err != nil || len(msgs) != 0 {
		t.Fatalf("Expected clean first batch, got msgs=%v err=%v", msgs, err)
	}
	msgs, err = bulk.SendBatch(context.Background(), [][]protocol.Parameter{row})
	if err != nil {
		t.Fatalf("SendBatch failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Number != 2601 {
		t.Errorf("Expected scripted batch diagnostics, got %v", msgs)
	}

	count, err := bulk.Done(context.Background())
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 rows loaded, got %d", count)
	}
	if got := m.GetBulkOptions(); len(got) != 1 || !got[0].TableLock {
		t.Errorf("Expected table lock option recorded, got %+v", got)
	}
	if batches := m.GetSentBatches(); len(batches) != 2 {
		t.Errorf("Expected 2 recorded batches, got %d", len(batches))
	}
}

func TestMockTransportClosed(t *testing.T) {
	m := NewMockTransport()
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := m.InvokeRPC(context.Background(), "sp_executesql", nil); err == nil {
		t.Error("Expected error invoking on closed transport")
	}
	if m.IsHealthy() {
		t.Error("Expected closed transport to be unhealthy")
	}
}

func TestMockTransportReset(t *testing.T) {
	m := NewMockTransport().WithInvokeError(errors.New("boom"))
	if _, err := m.InvokeRPC(context.Background(), "sp_executesql", nil); err == nil {
		t.Fatal("Expected scripted error")
	}

	m.Reset()

	if _, err := m.InvokeRPC(context.Background(), "sp_executesql", nil); err != nil {
		t.Errorf("Expected clean transport after reset, got %v", err)
	}
	if m.GetInvokeCallCount() != 1 {
		t.Errorf("Expected call count reset, got %d", m.GetInvokeCallCount())
	}
}

func TestBatchCapableTransport(t *testing.T) {
	m := NewBatchCapableTransport()
	m.WithRowCount(5)

	var _ transport.BatchInvoker = m

	sets := [][]protocol.Parameter{
		{{Type: protocol.TypeInt, Data: []byte{1, 0, 0, 0}}},
		{{Type: protocol.TypeInt, Data: []byte{2, 0, 0, 0}}},
	}
	stream, err := m.InvokeRPCBatch(context.Background(), "sp_executesql", sets)
	if err != nil {
		t.Fatalf("InvokeRPCBatch failed: %v", err)
	}
	defer stream.Close()

	if stream.RowsAffected() != 5 {
		t.Errorf("Expected rows affected 5, got %d", stream.RowsAffected())
	}
	if m.GetBatchInvocationCount() != 1 {
		t.Errorf("Expected 1 batch invocation, got %d", m.GetBatchInvocationCount())
	}
	if log := m.GetBatchLog(); len(log) != 1 || len(log[0]) != 2 {
		t.Errorf("Expected batch log with one entry of two sets, got %v", log)
	}
}
