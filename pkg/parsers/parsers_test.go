package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFormatForName(t *testing.T) {
	cases := map[string]string{
		"orders.csv":    "csv",
		"orders.CSV":    "csv",
		"report.xlsx":   "xlsx",
		"dump.json":     "json",
		"feed.xml":      "xml",
		"bundle.zip":    "zip",
		"readme.txt":    "",
		"no-extension":  "",
		"archive.tar":   "",
		"nested.csv.gz": "",
	}
	for name, want := range cases {
		assert.Equal(t, want, FormatForName(name), name)
	}
}

func TestIsTabular(t *testing.T) {
	for _, format := range []string{"csv", "xlsx", "json", "xml"} {
		assert.True(t, IsTabular(format), format)
	}
	assert.False(t, IsTabular("zip"))
	assert.False(t, IsTabular(""))
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse("notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseCSV(t *testing.T) {
	payload := []byte("name,age\nalice,30\nbob,25\n")

	table, err := ParseCSV(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 1, table.Rows[0].Number)
	assert.Equal(t, "alice", table.Rows[0].Values["name"])
	assert.Equal(t, "25", table.Rows[1].Values["age"])
}

func TestParseCSV_StripsByteOrderMark(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("id\n1\n")...)

	table, err := ParseCSV(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"id"}, table.Columns)
}

func TestParseCSV_RaggedRows(t *testing.T) {
	payload := []byte("a,b\n1\n2,3,4\n")

	table, err := ParseCSV(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "", table.Rows[0].Values["b"], "short rows are padded")
	assert.Equal(t, "3", table.Rows[1].Values["b"], "long rows are truncated")
}

func TestParseCSV_SkipsBlankLinesBeforeHeader(t *testing.T) {
	payload := []byte("\n  , \nname\nalice\n")

	table, err := ParseCSV(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"name"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "alice", table.Rows[0].Values["name"])
}

func TestParseCSV_SanitizesHeaders(t *testing.T) {
	payload := []byte("First Name,order.total,ship-date,,id,id\nx,y,z,w,1,2\n")

	table, err := ParseCSV(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"First_Name", "order_total", "ship_date", "column_4", "id", "id_2"}, table.Columns)
	assert.Equal(t, "1", table.Rows[0].Values["id"])
	assert.Equal(t, "2", table.Rows[0].Values["id_2"])
}

func TestParseCSV_EmptyPayload(t *testing.T) {
	_, err := ParseCSV([]byte(""))
	assert.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	payload := []byte(`[{"name":"alice","age":30},{"name":"bob","age":25}]`)

	table, err := ParseJSON(payload)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"name", "age"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "alice", table.Rows[0].Values["name"])
	assert.Equal(t, float64(25), table.Rows[1].Values["age"])
}

func TestParseJSON_UnwrapsSingleArray(t *testing.T) {
	payload := []byte(`{"meta":{"count":1},"records":[{"id":"a"}]}`)

	table, err := ParseJSON(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 1)
	assert.Equal(t, "a", table.Rows[0].Values["id"])
}

func TestParseJSON_AmbiguousWrapper(t *testing.T) {
	payload := []byte(`{"first":[{"id":1}],"second":[{"id":2}]}`)

	_, err := ParseJSON(payload)
	assert.Error(t, err)
}

func TestParseJSON_NestedValuesFlattenToText(t *testing.T) {
	payload := []byte(`[{"name":"alice","address":{"city":"Lyon"},"tags":["a","b"]}]`)

	table, err := ParseJSON(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 1)
	assert.Equal(t, `{"city":"Lyon"}`, table.Rows[0].Values["address"])
	assert.Equal(t, `["a","b"]`, table.Rows[0].Values["tags"])
}

func TestParseJSON_RejectsNonObjectRows(t *testing.T) {
	_, err := ParseJSON([]byte(`[1,2,3]`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`"just a string"`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`[]`))
	assert.Error(t, err)
}

func TestParseXML(t *testing.T) {
	payload := []byte(`<rows>
		<row id="ignored"><id>1</id><name>alice</name></row>
		<row><id>2</id><name>bob</name></row>
	</rows>`)

	table, err := ParseXML(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "1", table.Rows[0].Values["id"], "child element wins over the attribute")
	assert.Equal(t, "bob", table.Rows[1].Values["name"])
}

func TestParseXML_AttributesBecomeColumns(t *testing.T) {
	payload := []byte(`<list><item sku="A1" qty="3"/><item sku="B2" qty="1"/></list>`)

	table, err := ParseXML(payload)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sku", "qty"}, table.Columns)
	assert.Equal(t, "A1", table.Rows[0].Values["sku"])
}

func TestParseXML_SkipsMetadataSiblings(t *testing.T) {
	payload := []byte(`<export>
		<generated>2024-01-01</generated>
		<user><name>alice</name></user>
		<user><name>bob</name></user>
	</export>`)

	table, err := ParseXML(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2, "the dominant element is the record")
	assert.Equal(t, "alice", table.Rows[0].Values["name"])
}

func TestParseXML_NestedStructuresFlattenToText(t *testing.T) {
	payload := []byte(`<orders><order><id>1</id><lines><line>a</line><line>b</line></lines></order><order><id>2</id></order></orders>`)

	table, err := ParseXML(payload)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, `{"line":["a","b"]}`, table.Rows[0].Values["lines"])
}

func TestParseXML_Empty(t *testing.T) {
	_, err := ParseXML([]byte(`<rows></rows>`))
	assert.Error(t, err)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"name", "score"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"alice", 91}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"bob", 78}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := ParseXLSX(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "score"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "alice", table.Rows[0].Values["name"])
	assert.Equal(t, "78", table.Rows[1].Values["score"], "cells come back as text")
}

func TestParseXLSX_InvalidPayload(t *testing.T) {
	_, err := ParseXLSX([]byte("not a zip"))
	assert.Error(t, err)
}

func TestTableIsEmpty(t *testing.T) {
	var table *Table
	assert.True(t, table.IsEmpty())
	assert.True(t, (&Table{Columns: []string{"a"}}).IsEmpty())
	assert.False(t, (&Table{Rows: []Row{{Number: 1}}}).IsEmpty())
}
