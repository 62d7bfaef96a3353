package repository

import (
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/supportchat/migrations"
)

func TestMigrationFilesOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 1;")},
		"002_second.sql": {Data: []byte("SELECT 1;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("notes")},
	}
	got, err := migrationFiles(fsys)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_first.sql", "002_second.sql", "010_later.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationFiles(migrations.Files)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_support_chat.sql" {
		t.Fatalf("embedded migrations %v", names)
	}
}
