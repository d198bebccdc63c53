// Command naivedb-demo exercises the storage engine end to end: it creates
// a database and table through the catalog, adds a primary key index,
// inserts one row, and prints what it reads back. It is a smoke test for
// the engine, not a SQL front end.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"naivedb/internal/bufferpool"
	"naivedb/internal/catalog"
	"naivedb/internal/config"
	"naivedb/internal/record"
	"naivedb/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a naivedb.yaml config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("naivedb-demo: load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := run(cfg); err != nil {
		slog.Error("naivedb-demo: run", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.NaiveDBConfig) error {
	var dm *storage.DiskManager
	var err error
	if cfg.Storage.File == "" {
		var path string
		dm, path, err = storage.NewRandomDiskManager(os.TempDir())
		if err != nil {
			return err
		}
		slog.Info("naivedb-demo: using ephemeral database file", "path", path)
	} else {
		dm, err = storage.Open(cfg.Storage.File)
		if err != nil {
			return err
		}
	}
	defer func() { _ = dm.Close() }()

	bp := bufferpool.NewPool(dm, cfg.BufferPool.Capacity)

	cat, err := catalog.Create(bp)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	if err := cat.CreateDatabase("demo"); err != nil {
		return err
	}
	if err := cat.UseDatabase("demo"); err != nil {
		return err
	}

	schema := record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.TypeInt, PrimaryKey: true},
		{Name: "name", Type: record.TypeVarchar, MaxLen: 64},
	}}
	if err := cat.CreateTable("users", schema); err != nil {
		return err
	}
	if err := cat.AddPrimary("users", []string{"id"}); err != nil {
		return err
	}

	tbl, err := cat.FindTable("users")
	if err != nil {
		return err
	}
	defer func() { _ = tbl.Close() }()

	rid, err := tbl.Append([]any{int32(1), "ada"})
	if err != nil {
		return err
	}
	row, err := tbl.Get(rid)
	if err != nil {
		return err
	}
	fmt.Println("row:", row)
	return nil
}
