package catalog

import (
	"context"
	"strings"

	"github.com/tabstream/go-tabstream/protocol"
)

// Column is the catalog metadata of one table column: its name, declared
// type, and the collation codepage for single-byte text types. Codepage is
// zero for everything else.
type Column struct {
	Name     string
	DataType string
	Type     protocol.WireType
	Codepage int
}

// EncodeRule says how text bound for this column must be encoded.
type EncodeRule int

const (
	// EncodeNone leaves the value to the default parameter encoding.
	EncodeNone EncodeRule = iota

	// EncodeUTF16 applies to the wide text types.
	EncodeUTF16

	// EncodeCodepage applies the column collation's single-byte codepage.
	EncodeCodepage
)

// Rule derives the encoding rule from the declared type name.
func (c Column) Rule() EncodeRule {
	switch strings.ToLower(c.DataType) {
	case "nvarchar", "nchar", "ntext":
		return EncodeUTF16
	case "varchar", "char", "text":
		return EncodeCodepage
	default:
		return EncodeNone
	}
}

// wireTypesByName maps catalog DATA_TYPE names to wire types. The legacy
// LOB types fold into their variable-length counterparts at this layer.
var wireTypesByName = map[string]protocol.WireType{
	"bigint":           protocol.TypeBigInt,
	"binary":           protocol.TypeBinary,
	"bit":              protocol.TypeBit,
	"char":             protocol.TypeChar,
	"date":             protocol.TypeDate,
	"datetime":         protocol.TypeDateTime,
	"datetime2":        protocol.TypeDateTime2,
	"datetimeoffset":   protocol.TypeDateTimeOffset,
	"decimal":          protocol.TypeDecimal,
	"float":            protocol.TypeFloat,
	"image":            protocol.TypeVarBinary,
	"int":              protocol.TypeInt,
	"money":            protocol.TypeDecimal,
	"nchar":            protocol.TypeNChar,
	"ntext":            protocol.TypeNVarChar,
	"numeric":          protocol.TypeDecimal,
	"nvarchar":         protocol.TypeNVarChar,
	"real":             protocol.TypeReal,
	"smalldatetime":    protocol.TypeDateTime,
	"smallint":         protocol.TypeSmallInt,
	"smallmoney":       protocol.TypeDecimal,
	"text":             protocol.TypeVarChar,
	"time":             protocol.TypeTime,
	"tinyint":          protocol.TypeTinyInt,
	"uniqueidentifier": protocol.TypeGuid,
	"varbinary":        protocol.TypeVarBinary,
	"varchar":          protocol.TypeVarChar,
	"xml":              protocol.TypeNVarChar,
}

// TypeFromName resolves a catalog DATA_TYPE name to its wire type.
func TypeFromName(name string) (protocol.WireType, bool) {
	t, ok := wireTypesByName[strings.ToLower(name)]
	return t, ok
}

// ColumnsQuery builds the metadata query for a parsed identifier. The
// query selects each column's name, declared type and collation codepage
// from the INFORMATION_SCHEMA view, catalog-qualified when the identifier
// carries a catalog part, in physical column order.
func ColumnsQuery(id Identifier) (string, []interface{}) {
	view := "INFORMATION_SCHEMA.COLUMNS"
	if id.Catalog != "" {
		view = QuotePart(id.Catalog) + "." + view
	}

	var b strings.Builder
	b.WriteString("SELECT COLUMN_NAME, DATA_TYPE, ")
	b.WriteString("CAST(COLLATIONPROPERTY(COLLATION_NAME, 'CodePage') AS INT) AS CodePage ")
	b.WriteString("FROM ")
	b.WriteString(view)
	b.WriteString(" WHERE TABLE_NAME = :0")

	params := []interface{}{id.Table}
	if id.Schema != "" {
		b.WriteString(" AND TABLE_SCHEMA = :1")
		params = append(params, id.Schema)
	}
	b.WriteString(" ORDER BY ORDINAL_POSITION")

	return b.String(), params
}

// Resolver looks up the catalog metadata of a table. The client session
// implements it by querying the server; bulk auto-encode consumes it.
type Resolver interface {
	ColumnsOf(ctx context.Context, table string) ([]Column, error)
}
