package store_test

import (
	"context"
	"testing"

	"hhsetl/internal/store"
)

func TestDomainTableColumns(t *testing.T) {
	cols, ok := store.DomainTableColumns("people")
	if !ok {
		t.Fatalf("expected people table to be known")
	}
	if len(cols) == 0 || cols[0] != "person_id" {
		t.Fatalf("people columns = %v, want person_id first", cols)
	}
	found := false
	for _, c := range cols {
		if c == "gender" {
			found = true
		}
	}
	if !found {
		t.Fatalf("people columns missing gender: %v", cols)
	}

	if _, ok := store.DomainTableColumns("no_such_table"); ok {
		t.Fatalf("unknown table should not resolve")
	}
}

func TestDomainTableNames_CoversSchema(t *testing.T) {
	names := store.DomainTableNames()
	if len(names) != 11 {
		t.Fatalf("table count = %d, want 11", len(names))
	}
	for _, name := range names {
		if _, ok := store.DomainTableColumns(name); !ok {
			t.Fatalf("no column list for table %s", name)
		}
	}
}

func TestUpsertDomainRows_InsertThenUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cols := []string{"person_id", "first_name", "gender"}
	inserted, updated, err := st.UpsertDomainRows(ctx, "people", cols, "person_id", [][]any{
		{"P1", "Ann", "Female"},
		{"P2", "Ben", "Male"},
	})
	if err != nil {
		t.Fatalf("UpsertDomainRows: %v", err)
	}
	if inserted != 2 || updated != 0 {
		t.Fatalf("inserted=%d updated=%d, want 2/0", inserted, updated)
	}

	inserted, updated, err = st.UpsertDomainRows(ctx, "people", cols, "person_id", [][]any{
		{"P1", "Ann", "Female"},
		{"P3", "Cai", nil},
	})
	if err != nil {
		t.Fatalf("UpsertDomainRows (2): %v", err)
	}
	if inserted != 1 || updated != 1 {
		t.Fatalf("inserted=%d updated=%d, want 1/1", inserted, updated)
	}

	n, err := st.CountDomainRows(ctx, "people")
	if err != nil {
		t.Fatalf("CountDomainRows: %v", err)
	}
	if n != 3 {
		t.Fatalf("people rows = %d, want 3", n)
	}

	counts, err := st.DomainRowCounts(ctx)
	if err != nil {
		t.Fatalf("DomainRowCounts: %v", err)
	}
	if counts["people"] != 3 || counts["cases"] != 0 {
		t.Fatalf("row counts = %v", counts)
	}
}

func TestUpsertDomainRows_RejectsBadInput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, _, err := st.UpsertDomainRows(ctx, "no_such_table", []string{"a"}, "a", [][]any{{"x"}}); err == nil {
		t.Fatalf("expected error for unknown table")
	}
	if _, _, err := st.UpsertDomainRows(ctx, "people", []string{"person_id", "bogus_col"}, "person_id", [][]any{{"P1", "x"}}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
	if _, _, err := st.UpsertDomainRows(ctx, "people", []string{"first_name"}, "person_id", [][]any{{"Ann"}}); err == nil {
		t.Fatalf("expected error when primary key is not among columns")
	}
}
