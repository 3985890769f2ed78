package catalog

import (
	"strings"
	"testing"

	"github.com/tabstream/go-tabstream/protocol"
)

func TestTypeFromName(t *testing.T) {
	tests := []struct {
		name string
		want protocol.WireType
	}{
		{"int", protocol.TypeInt},
		{"bigint", protocol.TypeBigInt},
		{"NVARCHAR", protocol.TypeNVarChar},
		{"Varchar", protocol.TypeVarChar},
		{"text", protocol.TypeVarChar},
		{"ntext", protocol.TypeNVarChar},
		{"xml", protocol.TypeNVarChar},
		{"image", protocol.TypeVarBinary},
		{"money", protocol.TypeDecimal},
		{"smallmoney", protocol.TypeDecimal},
		{"numeric", protocol.TypeDecimal},
		{"smalldatetime", protocol.TypeDateTime},
		{"uniqueidentifier", protocol.TypeGuid},
		{"datetimeoffset", protocol.TypeDateTimeOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TypeFromName(tt.name)
			if !ok {
				t.Fatalf("TypeFromName(%q) not found", tt.name)
			}
			if got != tt.want {
				t.Errorf("TypeFromName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if _, ok := TypeFromName("geography"); ok {
		t.Error("TypeFromName(geography) resolved, want unknown")
	}
}

func TestColumnRule(t *testing.T) {
	tests := []struct {
		dataType string
		want     EncodeRule
	}{
		{"nvarchar", EncodeUTF16},
		{"NCHAR", EncodeUTF16},
		{"ntext", EncodeUTF16},
		{"varchar", EncodeCodepage},
		{"char", EncodeCodepage},
		{"text", EncodeCodepage},
		{"int", EncodeNone},
		{"varbinary", EncodeNone},
	}

	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			c := Column{Name: "c", DataType: tt.dataType}
			if got := c.Rule(); got != tt.want {
				t.Errorf("Rule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColumnsQuery(t *testing.T) {
	t.Run("bare table", func(t *testing.T) {
		id, _ := Parse("orders")
		sql, params := ColumnsQuery(id)

		if !strings.Contains(sql, "FROM INFORMATION_SCHEMA.COLUMNS") {
			t.Errorf("query not against default catalog: %s", sql)
		}
		if !strings.Contains(sql, "TABLE_NAME = :0") {
			t.Errorf("missing table filter: %s", sql)
		}
		if strings.Contains(sql, "TABLE_SCHEMA") {
			t.Errorf("unexpected schema filter: %s", sql)
		}
		if !strings.HasSuffix(sql, "ORDER BY ORDINAL_POSITION") {
			t.Errorf("missing ordering: %s", sql)
		}
		if len(params) != 1 || params[0] != "orders" {
			t.Errorf("params = %v, want [orders]", params)
		}
	})

	t.Run("schema qualified", func(t *testing.T) {
		id, _ := Parse("sales.orders")
		sql, params := ColumnsQuery(id)

		if !strings.Contains(sql, "TABLE_SCHEMA = :1") {
			t.Errorf("missing schema filter: %s", sql)
		}
		if len(params) != 2 || params[0] != "orders" || params[1] != "sales" {
			t.Errorf("params = %v, want [orders sales]", params)
		}
	})

	t.Run("catalog qualified", func(t *testing.T) {
		id, _ := Parse("crm.sales.orders")
		sql, _ := ColumnsQuery(id)

		if !strings.Contains(sql, "FROM [crm].INFORMATION_SCHEMA.COLUMNS") {
			t.Errorf("query not catalog qualified: %s", sql)
		}
	})

	t.Run("collation codepage selected", func(t *testing.T) {
		id, _ := Parse("orders")
		sql, _ := ColumnsQuery(id)

		if !strings.Contains(sql, "COLLATIONPROPERTY(COLLATION_NAME, 'CodePage')") {
			t.Errorf("missing codepage projection: %s", sql)
		}
	})
}
