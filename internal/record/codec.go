package record

import (
	"fmt"
	"math"

	"naivedb/pkg/bx"
)

// varEntry holds one VARCHAR column's encoded bytes (nil for NULL) pending
// placement in the varlen section.
type varEntry struct {
	bytes []byte
}

// EncodeRow serializes values (one per schema column, in order) into the
// on-disk tuple format:
//
//	[null_bitmap: ceil(n/8) bytes][fixed columns...][varlen offset table][varlen bytes]
//
// Fixed columns (INT, FLOAT, DATE, BOOL) are written in schema order at
// their fixed width, zeroed when NULL. VARCHAR columns are not fixed-width:
// their bytes live in a trailing blob addressed by an offset table of
// len(varcols)+1 uint32 entries (a sentinel final entry gives the last
// column's length).
func EncodeRow(schema Schema, values []any) ([]byte, error) {
	n := schema.NumCols()
	if len(values) != n {
		return nil, fmt.Errorf("%w: got %d values for %d columns", ErrSchemaMismatch, len(values), n)
	}

	bitmapLen := nullBitmapBytes(n)
	bitmap := make([]byte, bitmapLen)
	fixedVals := make([]any, n)
	var varEntries []varEntry
	fixedWidth := 0

	for i, col := range schema.Cols {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchNotAllowNull)
			}
			bitmap[i/8] |= 1 << uint(i%8)
			if col.Type == TypeVarchar {
				varEntries = append(varEntries, varEntry{})
			} else {
				fixedWidth += FixedWidth(col)
			}
			continue
		}

		switch col.Type {
		case TypeInt:
			iv, ok := v.(int32)
			if !ok {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			fixedVals[i] = iv
			fixedWidth += 4
		case TypeFloat:
			fv, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			fixedVals[i] = fv
			fixedWidth += 8
		case TypeBool:
			bv, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			fixedVals[i] = bv
			fixedWidth++
		case TypeDate:
			dv, ok := v.(Date)
			if !ok {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			fixedVals[i] = dv
			fixedWidth += 4
		case TypeVarchar:
			sv, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrSchemaMismatchType)
			}
			if len(sv) > math.MaxUint16 || (col.MaxLen > 0 && len(sv) > col.MaxLen) {
				return nil, fmt.Errorf("column %q: %w", col.Name, ErrVarTooLong)
			}
			varEntries = append(varEntries, varEntry{bytes: []byte(sv)})
		}
	}

	offsetTableLen := (len(varEntries) + 1) * 4
	totalVarBytes := 0
	for _, e := range varEntries {
		totalVarBytes += len(e.bytes)
	}

	buf := make([]byte, bitmapLen+fixedWidth+offsetTableLen+totalVarBytes)
	copy(buf[:bitmapLen], bitmap)

	cursor := bitmapLen
	for i, col := range schema.Cols {
		if col.Type == TypeVarchar {
			continue
		}
		w := FixedWidth(col)
		if fixedVals[i] == nil {
			cursor += w
			continue
		}
		switch col.Type {
		case TypeInt:
			bx.PutI32(buf[cursor:], fixedVals[i].(int32))
		case TypeFloat:
			bx.PutU64(buf[cursor:], math.Float64bits(fixedVals[i].(float64)))
		case TypeBool:
			if fixedVals[i].(bool) {
				buf[cursor] = 1
			}
		case TypeDate:
			bx.PutI32(buf[cursor:], int32(fixedVals[i].(Date)))
		}
		cursor += w
	}

	offTableStart := cursor
	dataStart := offTableStart + offsetTableLen
	dataCursor := uint32(0)
	for j, e := range varEntries {
		bx.PutU32(buf[offTableStart+j*4:], dataCursor)
		if len(e.bytes) > 0 {
			copy(buf[dataStart+int(dataCursor):], e.bytes)
			dataCursor += uint32(len(e.bytes))
		}
	}
	bx.PutU32(buf[offTableStart+len(varEntries)*4:], dataCursor)

	return buf, nil
}

// DecodeRow is EncodeRow's inverse, returning one value per schema column
// (nil for NULL).
func DecodeRow(schema Schema, buf []byte) ([]any, error) {
	n := schema.NumCols()
	bitmapLen := nullBitmapBytes(n)
	if len(buf) < bitmapLen {
		return nil, ErrBadBuffer
	}
	bitmap := buf[:bitmapLen]
	isNull := func(i int) bool { return bitmap[i/8]&(1<<uint(i%8)) != 0 }

	out := make([]any, n)
	var varColIdx []int
	cursor := bitmapLen
	for i, col := range schema.Cols {
		if col.Type == TypeVarchar {
			varColIdx = append(varColIdx, i)
			continue
		}
		w := FixedWidth(col)
		if cursor+w > len(buf) {
			return nil, ErrBadBuffer
		}
		if isNull(i) {
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
		}
		cursor += w
	}

	numVar := len(varColIdx)
	offsetTableLen := (numVar + 1) * 4
	if cursor+offsetTableLen > len(buf) {
		return nil, ErrBadBuffer
	}
	offTableStart := cursor
	dataStart := offTableStart + offsetTableLen
	offsets := make([]uint32, numVar+1)
	for j := 0; j <= numVar; j++ {
		offsets[j] = bx.U32(buf[offTableStart+j*4:])
	}
	for j, schemaIdx := range varColIdx {
		if isNull(schemaIdx) {
			continue
		}
		start, end := offsets[j], offsets[j+1]
		if end < start || dataStart+int(end) > len(buf) {
			return nil, ErrBadBuffer
		}
		out[schemaIdx] = string(buf[dataStart+int(start) : dataStart+int(end)])
	}
	return out, nil
}
