package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Customer Orders":   "customer_orders",
		"  padded  ":        "padded",
		"UPPER-case.thing":  "upper_case_thing",
		"already_slugged":   "already_slugged",
		"weird***chars!!!x": "weird_chars_x",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slugify(input), input)
	}
}

func TestPhysicalTableName(t *testing.T) {
	name := PhysicalTableName("tenant-a", "Customer Orders")

	assert.True(t, strings.HasPrefix(name, "imported_customer_orders_"))
	assert.Len(t, name, len("imported_customer_orders_")+8, "tenant suffix is eight hex chars")
}

func TestPhysicalTableName_TenantIsolation(t *testing.T) {
	a := PhysicalTableName("tenant-a", "orders")
	b := PhysicalTableName("tenant-b", "orders")

	assert.NotEqual(t, a, b, "same key in different tenants must not collide")
	assert.Equal(t, a, PhysicalTableName("tenant-a", "orders"), "names are stable")
}

func TestSQLType(t *testing.T) {
	assert.Equal(t, "BIGINT", SQLType(models.ColumnTypeInteger))
	assert.Equal(t, "DOUBLE PRECISION", SQLType(models.ColumnTypeFloat))
	assert.Equal(t, "BOOLEAN", SQLType(models.ColumnTypeBoolean))
	assert.Equal(t, "TIMESTAMPTZ", SQLType(models.ColumnTypeTimestamp))
	assert.Equal(t, "TEXT", SQLType(models.ColumnTypeText))
}
