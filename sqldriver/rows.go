package sqldriver

import (
	"database/sql/driver"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tabstream/go-tabstream/client"
	"github.com/tabstream/go-tabstream/protocol"
)

// rows adapts a ResultSet to driver.Rows. The column slice is captured
// per result set; NextResultSet refreshes it.
type rows struct {
	rs      *client.ResultSet
	columns []protocol.Column
	noMore  bool
}

var (
	_ driver.Rows                           = (*rows)(nil)
	_ driver.RowsNextResultSet              = (*rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*rows)(nil)
	_ driver.RowsColumnTypeLength           = (*rows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*rows)(nil)
)

func (r *rows) Columns() []string {
	names := make([]string, len(r.columns))
	for i, col := range r.columns {
		names[i] = col.Name
	}
	return names
}

func (r *rows) Close() error {
	return r.rs.Close()
}

func (r *rows) Next(dest []driver.Value) error {
	row, err := r.rs.Next()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return err
	}
	for i, v := range row.Values() {
		if i >= len(dest) {
			break
		}
		dest[i] = driverValue(v)
	}
	return nil
}

func (r *rows) HasNextResultSet() bool {
	return !r.noMore
}

func (r *rows) NextResultSet() error {
	more, err := r.rs.NextResultSet()
	if err != nil {
		return err
	}
	if !more {
		r.noMore = true
		return io.EOF
	}
	r.columns = r.rs.Columns()
	return nil
}

func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return strings.ToUpper(r.columns[index].Type.String())
}

func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	return r.columns[index].Nullable, true
}

func (r *rows) ColumnTypeLength(index int) (length int64, ok bool) {
	col := r.columns[index]
	switch col.Type {
	case protocol.TypeChar, protocol.TypeVarChar, protocol.TypeNChar, protocol.TypeNVarChar,
		protocol.TypeBinary, protocol.TypeVarBinary:
		return int64(col.Size), true
	}
	return 0, false
}

func (r *rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	col := r.columns[index]
	if col.Type == protocol.TypeDecimal {
		return int64(col.Precision), int64(col.Scale), true
	}
	return 0, 0, false
}

func (r *rows) ColumnTypeScanType(index int) reflect.Type {
	switch r.columns[index].Type {
	case protocol.TypeBit:
		return reflect.TypeOf(false)
	case protocol.TypeTinyInt, protocol.TypeSmallInt, protocol.TypeInt, protocol.TypeBigInt:
		return reflect.TypeOf(int64(0))
	case protocol.TypeReal, protocol.TypeFloat:
		return reflect.TypeOf(float64(0))
	case protocol.TypeDecimal, protocol.TypeGuid,
		protocol.TypeChar, protocol.TypeVarChar, protocol.TypeNChar, protocol.TypeNVarChar:
		return reflect.TypeOf("")
	case protocol.TypeBinary, protocol.TypeVarBinary:
		return reflect.TypeOf([]byte(nil))
	case protocol.TypeDate, protocol.TypeTime, protocol.TypeDateTime,
		protocol.TypeDateTime2, protocol.TypeDateTimeOffset:
		return reflect.TypeOf(time.Time{})
	}
	return reflect.TypeOf(new(interface{})).Elem()
}

// driverValue narrows a decoded host value to the driver.Value set.
// Decimals and GUIDs travel as their canonical strings.
func driverValue(v interface{}) driver.Value {
	switch t := v.(type) {
	case float32:
		return float64(t)
	case decimal.Decimal:
		return t.String()
	case uuid.UUID:
		return t.String()
	default:
		return t
	}
}
