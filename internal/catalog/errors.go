package catalog

import "errors"

var (
	// ErrDatabaseNotFound is returned when a named database does not exist.
	ErrDatabaseNotFound = errors.New("catalog: database not found")

	// ErrDatabaseExists is returned when creating a database whose name is
	// already taken.
	ErrDatabaseExists = errors.New("catalog: database already exists")

	// ErrDatabaseNotEmpty is returned when dropping a database that still
	// has tables in it.
	ErrDatabaseNotEmpty = errors.New("catalog: database is not empty")

	// ErrNoCurrentDatabase is returned by table/index operations when no
	// database has been selected via UseDatabase.
	ErrNoCurrentDatabase = errors.New("catalog: no database selected")

	// ErrTableNotFound is returned when a named table does not exist in
	// the current database.
	ErrTableNotFound = errors.New("catalog: table not found")

	// ErrTableExists is returned when creating a table whose name is
	// already taken in the current database.
	ErrTableExists = errors.New("catalog: table already exists")

	// ErrIndexNotFound is returned when a named index does not exist on a
	// table.
	ErrIndexNotFound = errors.New("catalog: index not found")

	// ErrIndexExists is returned when adding an index whose name is
	// already taken on a table.
	ErrIndexExists = errors.New("catalog: index already exists")

	// ErrHasDependents is returned when dropping a table that is still
	// referenced by another table's foreign key.
	ErrHasDependents = errors.New("catalog: table is referenced by a foreign key")

	// ErrUnknownColumn is returned when an index or foreign key names a
	// column absent from the table's schema.
	ErrUnknownColumn = errors.New("catalog: unknown column")

	// ErrNameTooLong is returned when a database, table, or index name
	// exceeds the catalog's fixed name width.
	ErrNameTooLong = errors.New("catalog: name exceeds maximum length")
)
