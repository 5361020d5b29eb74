package migrate

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNewManagerDefaultsDirectories(t *testing.T) {
	m := NewManager(nil, "", "")
	if m.migrationsDir != DefaultMigrationsDir || m.seedsDir != DefaultSeedsDir {
		t.Fatalf("dirs = %q, %q", m.migrationsDir, m.seedsDir)
	}
	m = NewManager(nil, "db/migrations", "db/seeds")
	if m.migrationsDir != "db/migrations" || m.seedsDir != "db/seeds" {
		t.Fatalf("dirs = %q, %q", m.migrationsDir, m.seedsDir)
	}
}

func TestCollectSQLOrdersByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0003_c.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Base)
	}
	want := []string{"0001_a.up.sql", "0002_b.up.sql"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(filepath.Join(t.TempDir(), "absent"), ".sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("files = %v, want none", files)
	}
}

func TestSplitStatements(t *testing.T) {
	in := `create table t (id text);
insert into t values ('a;b');
`
	stmts := splitStatements(in)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(stmts), stmts)
	}
	want := "insert into t values ('a;b');"
	found := false
	for _, s := range stmts {
		if strings.TrimSpace(s) == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("semicolon inside string literal split: %q", stmts)
	}
}
