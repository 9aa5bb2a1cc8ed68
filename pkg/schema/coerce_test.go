package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestCoerce_Integer(t *testing.T) {
	t.Run("plain integer", func(t *testing.T) {
		value, err := Coerce(models.ColumnTypeInteger, "42")
		require.NoError(t, err)
		assert.Equal(t, int64(42), value)
	})

	t.Run("lossless float representation", func(t *testing.T) {
		value, err := Coerce(models.ColumnTypeInteger, "7.0")
		require.NoError(t, err)
		assert.Equal(t, int64(7), value)
	})

	t.Run("fractional value is rejected", func(t *testing.T) {
		_, err := Coerce(models.ColumnTypeInteger, "7.5")
		assert.Error(t, err)
	})

	t.Run("non numeric is rejected", func(t *testing.T) {
		_, err := Coerce(models.ColumnTypeInteger, "seven")
		assert.Error(t, err)
	})
}

func TestCoerce_Boolean(t *testing.T) {
	truthy := []string{"true", "TRUE", "1", "yes", "Y"}
	for _, raw := range truthy {
		value, err := Coerce(models.ColumnTypeBoolean, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, true, value, raw)
	}

	falsy := []string{"false", "0", "no", "n"}
	for _, raw := range falsy {
		value, err := Coerce(models.ColumnTypeBoolean, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, false, value, raw)
	}

	_, err := Coerce(models.ColumnTypeBoolean, "maybe")
	assert.Error(t, err)
}

func TestCoerce_Timestamp(t *testing.T) {
	value, err := Coerce(models.ColumnTypeTimestamp, "2024-03-20T09:30:00Z")
	require.NoError(t, err)

	ts, ok := value.(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC), ts)
}

func TestCoerce_TextPassesThrough(t *testing.T) {
	value, err := Coerce(models.ColumnTypeText, "  anything at all  ")
	require.NoError(t, err)
	assert.Equal(t, "  anything at all  ", value)
}

func TestCoerceAny_NilStaysNil(t *testing.T) {
	value, err := CoerceAny(models.ColumnTypeInteger, nil)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestCoerceAny_TypedInputs(t *testing.T) {
	t.Run("whole float to integer", func(t *testing.T) {
		value, err := CoerceAny(models.ColumnTypeInteger, float64(12))
		require.NoError(t, err)
		assert.Equal(t, int64(12), value)
	})

	t.Run("fractional float to integer fails", func(t *testing.T) {
		_, err := CoerceAny(models.ColumnTypeInteger, 12.5)
		assert.Error(t, err)
	})

	t.Run("bool to text formats", func(t *testing.T) {
		value, err := CoerceAny(models.ColumnTypeText, true)
		require.NoError(t, err)
		assert.Equal(t, "true", value)
	})

	t.Run("float to text keeps precision", func(t *testing.T) {
		value, err := CoerceAny(models.ColumnTypeText, 0.25)
		require.NoError(t, err)
		assert.Equal(t, "0.25", value)
	})

	t.Run("time passes through timestamp columns", func(t *testing.T) {
		now := time.Now()
		value, err := CoerceAny(models.ColumnTypeTimestamp, now)
		require.NoError(t, err)
		assert.Equal(t, now, value)
	})

	t.Run("time rejected for other columns", func(t *testing.T) {
		_, err := CoerceAny(models.ColumnTypeInteger, time.Now())
		assert.Error(t, err)
	})

	t.Run("string routes through Coerce", func(t *testing.T) {
		value, err := CoerceAny(models.ColumnTypeBoolean, "yes")
		require.NoError(t, err)
		assert.Equal(t, true, value)
	})
}
