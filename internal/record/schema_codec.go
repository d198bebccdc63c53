package record

import "naivedb/pkg/bx"

const (
	flagNullable   = 1 << 0
	flagPrimaryKey = 1 << 1
	flagUnique     = 1 << 2
)

// EncodeSchema serializes a Schema for storage in a table's root page:
// [numCols:2][per column: nameLen:1][name][type:1][flags:1][maxLen:2]
func EncodeSchema(s Schema) []byte {
	size := 2
	for _, c := range s.Cols {
		size += 1 + len(c.Name) + 1 + 1 + 2
	}
	buf := make([]byte, size)
	bx.PutU16At(buf, 0, uint16(len(s.Cols)))
	cursor := 2
	for _, c := range s.Cols {
		buf[cursor] = byte(len(c.Name))
		cursor++
		copy(buf[cursor:], c.Name)
		cursor += len(c.Name)
		buf[cursor] = byte(c.Type)
		cursor++
		var flags byte
		if c.Nullable {
			flags |= flagNullable
		}
		if c.PrimaryKey {
			flags |= flagPrimaryKey
		}
		if c.Unique {
			flags |= flagUnique
		}
		buf[cursor] = flags
		cursor++
		bx.PutU16At(buf, cursor, uint16(c.MaxLen))
		cursor += 2
	}
	return buf
}

// DecodeSchema is EncodeSchema's inverse.
func DecodeSchema(buf []byte) (Schema, error) {
	if len(buf) < 2 {
		return Schema{}, ErrBadBuffer
	}
	numCols := int(bx.U16At(buf, 0))
	cols := make([]Column, 0, numCols)
	cursor := 2
	for i := 0; i < numCols; i++ {
		if cursor+1 > len(buf) {
			return Schema{}, ErrBadBuffer
		}
		nameLen := int(buf[cursor])
		cursor++
		if cursor+nameLen+4 > len(buf) {
			return Schema{}, ErrBadBuffer
		}
		name := string(buf[cursor : cursor+nameLen])
		cursor += nameLen
		typ := ColumnType(buf[cursor])
		cursor++
		flags := buf[cursor]
		cursor++
		maxLen := int(bx.U16At(buf, cursor))
		cursor += 2
		cols = append(cols, Column{
			Name:       name,
			Type:       typ,
			Nullable:   flags&flagNullable != 0,
			PrimaryKey: flags&flagPrimaryKey != 0,
			Unique:     flags&flagUnique != 0,
			MaxLen:     maxLen,
		})
	}
	return Schema{Cols: cols}, nil
}
