package record

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id", Type: TypeInt, Nullable: false},
			{Name: "score", Type: TypeFloat, Nullable: false},
			{Name: "active", Type: TypeBool, Nullable: false},
			{Name: "born", Type: TypeDate, Nullable: true},
			{Name: "name", Type: TypeVarchar, Nullable: true, MaxLen: 64},
		},
	}
}

func TestEncodeDecodeRow_RoundTrip(t *testing.T) {
	schema := makeTestSchema()
	values := []any{int32(42), 3.14159, true, Date(100), "hello"}

	buf, err := EncodeRow(schema, values)
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Equal(t, int32(42), row[0].(int32))
	require.InDelta(t, 3.14159, row[1].(float64), 1e-9)
	require.True(t, row[2].(bool))
	require.Equal(t, Date(100), row[3].(Date))
	require.Equal(t, "hello", row[4].(string))
}

func TestEncodeDecodeRow_Nullable(t *testing.T) {
	schema := makeTestSchema()
	values := []any{int32(1), 1.5, false, nil, nil}

	buf, err := EncodeRow(schema, values)
	require.NoError(t, err)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Nil(t, row[3])
	require.Nil(t, row[4])
}

func TestEncodeRow_SchemaMismatch(t *testing.T) {
	schema := makeTestSchema()

	t.Run("wrong arity", func(t *testing.T) {
		_, err := EncodeRow(schema, []any{int32(1), 2.0})
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("non-nullable column is nil", func(t *testing.T) {
		values := []any{nil, 1.0, true, nil, "ok"}
		_, err := EncodeRow(schema, values)
		require.ErrorIs(t, err, ErrSchemaMismatchNotAllowNull)
	})

	t.Run("wrong type for column", func(t *testing.T) {
		values := []any{"not-an-int", 1.0, true, nil, "ok"}
		_, err := EncodeRow(schema, values)
		require.ErrorIs(t, err, ErrSchemaMismatchType)
	})
}

func TestEncodeRow_VarTooLong(t *testing.T) {
	schema := Schema{Cols: []Column{{Name: "name", Type: TypeVarchar, Nullable: false, MaxLen: 5}}}

	_, err := EncodeRow(schema, []any{"way too long for five bytes"})
	require.ErrorIs(t, err, ErrVarTooLong)

	schemaUnbounded := Schema{Cols: []Column{{Name: "name", Type: TypeVarchar, Nullable: false}}}
	longStr := strings.Repeat("a", math.MaxUint16+1)
	_, err = EncodeRow(schemaUnbounded, []any{longStr})
	require.ErrorIs(t, err, ErrVarTooLong)
}

func TestDecodeRow_BadBuffer(t *testing.T) {
	schema := makeTestSchema()
	buf, err := EncodeRow(schema, []any{int32(42), 2.71828, true, Date(5), "test"})
	require.NoError(t, err)

	t.Run("truncated buffer", func(t *testing.T) {
		_, err := DecodeRow(schema, buf[:len(buf)-3])
		require.ErrorIs(t, err, ErrBadBuffer)
	})

	t.Run("too short for nullmap", func(t *testing.T) {
		_, err := DecodeRow(schema, []byte{})
		require.ErrorIs(t, err, ErrBadBuffer)
	})
}

func TestKey_EncodeCompareRoundTrip(t *testing.T) {
	keySchema := []Column{{Name: "id", Type: TypeInt, Nullable: false}}

	a, err := EncodeKey(keySchema, []any{int32(5)})
	require.NoError(t, err)
	b, err := EncodeKey(keySchema, []any{int32(10)})
	require.NoError(t, err)

	require.Equal(t, -1, CompareKeys(keySchema, a, b))
	require.Equal(t, 1, CompareKeys(keySchema, b, a))
	require.Equal(t, 0, CompareKeys(keySchema, a, a))

	decoded, err := DecodeKey(keySchema, a)
	require.NoError(t, err)
	require.Equal(t, int32(5), decoded[0].(int32))
}

func TestKey_NullSortsFirst(t *testing.T) {
	keySchema := []Column{{Name: "id", Type: TypeInt, Nullable: true}}

	nullKey, err := EncodeKey(keySchema, []any{nil})
	require.NoError(t, err)
	nonNullKey, err := EncodeKey(keySchema, []any{int32(0)})
	require.NoError(t, err)

	require.Equal(t, -1, CompareKeys(keySchema, nullKey, nonNullKey))
	require.True(t, KeyHasNull(keySchema, nullKey))
	require.False(t, KeyHasNull(keySchema, nonNullKey))
}

func TestKey_CompositeVarcharOrdering(t *testing.T) {
	keySchema := []Column{
		{Name: "bucket", Type: TypeInt, Nullable: false},
		{Name: "name", Type: TypeVarchar, Nullable: false, MaxLen: 8},
	}

	a, err := EncodeKey(keySchema, []any{int32(1), "alice"})
	require.NoError(t, err)
	b, err := EncodeKey(keySchema, []any{int32(1), "bob"})
	require.NoError(t, err)
	c, err := EncodeKey(keySchema, []any{int32(2), "aaron"})
	require.NoError(t, err)

	require.Equal(t, -1, CompareKeys(keySchema, a, b))
	require.Equal(t, -1, CompareKeys(keySchema, b, c))
}
