package record

import (
	"bytes"
	"fmt"
	"math"

	"naivedb/pkg/bx"
)

// KeyWidth returns the total fixed byte width a B+ tree key built from
// keySchema occupies: a null bitmap plus every column's fixed width.
// VARCHAR columns must carry a MaxLen since index keys, unlike heap tuple
// values, are fixed-size slot keys.
func KeyWidth(keySchema []Column) int {
	w := nullBitmapBytes(len(keySchema))
	for _, col := range keySchema {
		w += FixedWidth(col)
	}
	return w
}

// EncodeKey serializes values (one per keySchema column) into a fixed-width
// composite key for use as a B+ tree slot key. VARCHAR values are
// zero-padded to the column's MaxLen.
func EncodeKey(keySchema []Column, values []any) ([]byte, error) {
	if len(values) != len(keySchema) {
		return nil, fmt.Errorf("%w: got %d values for %d key columns", ErrSchemaMismatch, len(values), len(keySchema))
	}
	buf := make([]byte, KeyWidth(keySchema))
	bitmapLen := nullBitmapBytes(len(keySchema))
	cursor := bitmapLen

	for i, col := range keySchema {
		w := FixedWidth(col)
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchNotAllowNull)
			}
			buf[i/8] |= 1 << uint(i%8)
			cursor += w
			continue
		}
		switch col.Type {
		case TypeInt:
			iv, ok := v.(int32)
			if !ok {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			bx.PutI32(buf[cursor:], iv)
		case TypeFloat:
			fv, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			bx.PutU64(buf[cursor:], math.Float64bits(fv))
		case TypeBool:
			bv, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			if bv {
				buf[cursor] = 1
			}
		case TypeDate:
			dv, ok := v.(Date)
			if !ok {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			bx.PutI32(buf[cursor:], int32(dv))
		case TypeVarchar:
			sv, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			if len(sv) > col.MaxLen {
				return nil, fmt.Errorf("key column %q: %w", col.Name, ErrVarTooLong)
			}
			copy(buf[cursor:cursor+w], sv)
		}
		cursor += w
	}
	return buf, nil
}

// DecodeKey is EncodeKey's inverse.
func DecodeKey(keySchema []Column, buf []byte) ([]any, error) {
	if len(buf) != KeyWidth(keySchema) {
		return nil, ErrBadBuffer
	}
	bitmapLen := nullBitmapBytes(len(keySchema))
	cursor := bitmapLen
	out := make([]any, len(keySchema))
	for i, col := range keySchema {
		w := FixedWidth(col)
		if buf[i/8]&(1<<uint(i%8)) != 0 {
			cursor += w
			continue
		}
		switch col.Type {
		case TypeInt:
			out[i] = bx.I32(buf[cursor:])
		case TypeFloat:
			out[i] = math.Float64frombits(bx.U64(buf[cursor:]))
		case TypeBool:
			out[i] = buf[cursor] != 0
		case TypeDate:
			out[i] = Date(bx.I32(buf[cursor:]))
		case TypeVarchar:
			raw := buf[cursor : cursor+w]
			end := bytes.IndexByte(raw, 0)
			if end < 0 {
				end = len(raw)
			}
			out[i] = string(raw[:end])
		}
		cursor += w
	}
	return out, nil
}

func compareFixed(t ColumnType, a, b []byte) int {
	switch t {
	case TypeInt, TypeDate:
		ai, bi := bx.I32(a), bx.I32(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case TypeFloat:
		af, bf := math.Float64frombits(bx.U64(a)), math.Float64frombits(bx.U64(b))
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default: // TypeBool, TypeVarchar
		return bytes.Compare(a, b)
	}
}

// CompareKeys orders two encoded composite keys column-by-column using
// keySchema's type-directed ordering. NULL sorts before any non-null value
// in a column. This total order is for ordering purposes only; the
// separate rule that NULLs never conflict under a unique index is enforced
// by the index layer, not by this function.
func CompareKeys(keySchema []Column, a, b []byte) int {
	bitmapLen := nullBitmapBytes(len(keySchema))
	cursor := bitmapLen
	for i, col := range keySchema {
		w := FixedWidth(col)
		aNull := a[i/8]&(1<<uint(i%8)) != 0
		bNull := b[i/8]&(1<<uint(i%8)) != 0
		if aNull != bNull {
			if aNull {
				return -1
			}
			return 1
		}
		if !aNull {
			if c := compareFixed(col.Type, a[cursor:cursor+w], b[cursor:cursor+w]); c != 0 {
				return c
			}
		}
		cursor += w
	}
	return 0
}

// KeyHasNull reports whether any column of an encoded composite key is
// null, used by unique indexes to exempt NULL keys from the duplicate check.
func KeyHasNull(keySchema []Column, key []byte) bool {
	for i := range keySchema {
		if key[i/8]&(1<<uint(i%8)) != 0 {
			return true
		}
	}
	return false
}
