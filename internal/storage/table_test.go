package storage

import "testing"

func TestPostgresUpsertSQL(t *testing.T) {
	got := postgresUpsertSQL(NewsTable, IgnoreOnConflict)
	want := "INSERT INTO news (guid, title, description, link, pubDate) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (guid) DO NOTHING"
	if got != want {
		t.Fatalf("news SQL 不符合预期:\n got  %s\n want %s", got, want)
	}

	got = postgresUpsertSQL(Table{Name: "t", Columns: []string{"k", "a", "b"}, Keys: []string{"k"}}, ReplaceOnConflict)
	want = "INSERT INTO t (k, a, b) VALUES ($1, $2, $3) ON CONFLICT (k) DO UPDATE SET a = EXCLUDED.a, b = EXCLUDED.b"
	if got != want {
		t.Fatalf("replace SQL 不符合预期:\n got  %s\n want %s", got, want)
	}
}

func TestSQLiteUpsertSQL(t *testing.T) {
	tbl := Table{Name: "t", Columns: []string{"k", "a"}, Keys: []string{"k"}}
	if got := sqliteUpsertSQL(tbl, IgnoreOnConflict); got != "INSERT OR IGNORE INTO t (k, a) VALUES (?, ?)" {
		t.Fatalf("ignore SQL 错误: %s", got)
	}
	if got := sqliteUpsertSQL(tbl, ReplaceOnConflict); got != "INSERT OR REPLACE INTO t (k, a) VALUES (?, ?)" {
		t.Fatalf("replace SQL 错误: %s", got)
	}
}
