package catalog

import (
	"bytes"
	"fmt"

	"naivedb/internal/storage"
	"naivedb/pkg/bx"
)

// nameKeyWidth is the fixed width every catalog directory key (database,
// table, or index name) occupies on disk: directory pages are plain
// slotted pages keyed by name string.
const nameKeyWidth = 64

func encodeName(name string) ([]byte, error) {
	if len(name) > nameKeyWidth {
		return nil, fmt.Errorf("%q: %w", name, ErrNameTooLong)
	}
	buf := make([]byte, nameKeyWidth)
	copy(buf, name)
	return buf, nil
}

func decodeName(buf []byte) string {
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		end = len(buf)
	}
	return string(buf[:end])
}

func cmpName(a, b []byte) int { return bytes.Compare(a, b) }

// dbEntry is a database directory's value for one table: its heap root
// page and the (lazily allocated) page listing foreign keys that reference
// it from other tables.
const dbEntrySize = 8

func encodeDBEntry(tableRoot, depsID storage.PageId) []byte {
	buf := make([]byte, dbEntrySize)
	bx.PutU32(buf, uint32(tableRoot))
	bx.PutU32(buf[4:], uint32(depsID))
	return buf
}

func decodeDBEntry(buf []byte) (tableRoot, depsID storage.PageId) {
	return storage.PageId(bx.U32(buf)), storage.PageId(bx.U32(buf[4:]))
}

// IndexKind distinguishes a primary key, a unique constraint, a foreign
// key, or a plain secondary index — all realized as a btree.Tree, differing
// only in uniqueness and the metadata recorded alongside the tree.
type IndexKind uint8

const (
	IndexSecondary IndexKind = iota
	IndexPrimary
	IndexUnique
	IndexForeign
)

// IndexMeta describes one entry in a table's indexes page.
type IndexMeta struct {
	Name       string
	DescID     storage.PageId
	Kind       IndexKind
	Unique     bool
	Columns    []string
	RefTable   string   // IndexForeign only
	RefColumns []string // IndexForeign only
}

func encodeIndexMeta(m IndexMeta) []byte {
	size := 4 + 1 + 1 + 1
	for _, c := range m.Columns {
		size += 1 + len(c)
	}
	if m.Kind == IndexForeign {
		size += 1 + len(m.RefTable) + 1
		for _, c := range m.RefColumns {
			size += 1 + len(c)
		}
	}
	buf := make([]byte, size)
	bx.PutU32(buf, uint32(m.DescID))
	cursor := 4
	buf[cursor] = byte(m.Kind)
	cursor++
	if m.Unique {
		buf[cursor] = 1
	}
	cursor++
	buf[cursor] = byte(len(m.Columns))
	cursor++
	for _, c := range m.Columns {
		buf[cursor] = byte(len(c))
		cursor++
		copy(buf[cursor:], c)
		cursor += len(c)
	}
	if m.Kind == IndexForeign {
		buf[cursor] = byte(len(m.RefTable))
		cursor++
		copy(buf[cursor:], m.RefTable)
		cursor += len(m.RefTable)
		buf[cursor] = byte(len(m.RefColumns))
		cursor++
		for _, c := range m.RefColumns {
			buf[cursor] = byte(len(c))
			cursor++
			copy(buf[cursor:], c)
			cursor += len(c)
		}
	}
	return buf
}

func decodeIndexMeta(name string, buf []byte) (IndexMeta, error) {
	if len(buf) < 7 {
		return IndexMeta{}, storage.ErrInvariantViolation
	}
	m := IndexMeta{Name: name}
	m.DescID = storage.PageId(bx.U32(buf))
	cursor := 4
	m.Kind = IndexKind(buf[cursor])
	cursor++
	m.Unique = buf[cursor] != 0
	cursor++
	numCols := int(buf[cursor])
	cursor++
	for i := 0; i < numCols; i++ {
		l := int(buf[cursor])
		cursor++
		m.Columns = append(m.Columns, string(buf[cursor:cursor+l]))
		cursor += l
	}
	if m.Kind == IndexForeign {
		l := int(buf[cursor])
		cursor++
		m.RefTable = string(buf[cursor : cursor+l])
		cursor += l
		numRef := int(buf[cursor])
		cursor++
		for i := 0; i < numRef; i++ {
			l := int(buf[cursor])
			cursor++
			m.RefColumns = append(m.RefColumns, string(buf[cursor:cursor+l]))
			cursor += l
		}
	}
	return m, nil
}

// Dependent is one foreign key, recorded on the referenced table's
// dependents page, naming the child table and constraint that points back
// at it.
type Dependent struct {
	ChildTable string
	FKName     string
}

func encodeDependent(fkName string) []byte {
	return []byte(fkName)
}
