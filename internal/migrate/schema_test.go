package migrate

import (
	"strings"
	"testing"
	"testing/fstest"

	"medconsult.org/internal/store/pg"
)

func TestLoadPairsScriptsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_profile.up.sql":  {Data: []byte("alter table p add column d text;")},
		"0001_clinic.up.sql":   {Data: []byte("create table p (id int);")},
		"0001_clinic.down.sql": {Data: []byte("drop table p;")},
		"README.md":            {Data: []byte("notes")},
		"0003_draft.sql":       {Data: []byte("select 1;")},
	}
	plan, err := Load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 migrations, got %+v", plan)
	}
	if plan[0].String() != "0001_clinic" || !plan[0].Reversible() {
		t.Fatalf("unexpected first migration %+v", plan[0])
	}
	if plan[1].Version != 2 || plan[1].Name != "profile" || plan[1].Reversible() {
		t.Fatalf("unexpected second migration %+v", plan[1])
	}
}

func TestLoadRejectsBrokenSchemas(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"missing up": {
			"0001_clinic.down.sql": {Data: []byte("drop table p;")},
		},
		"blank up": {
			"0001_clinic.up.sql": {Data: []byte("  \n")},
		},
		"name clash": {
			"0001_clinic.up.sql": {Data: []byte("select 1;")},
			"0001_other.up.sql":  {Data: []byte("select 2;")},
		},
		"zero version": {
			"0000_clinic.up.sql": {Data: []byte("select 1;")},
		},
	}
	for name, fsys := range cases {
		if _, err := Load(fsys); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestEmbeddedSchemaLoads(t *testing.T) {
	plan, err := Load(pg.Migrations())
	if err != nil {
		t.Fatalf("load embedded schema: %v", err)
	}
	if len(plan) < 2 {
		t.Fatalf("expected at least two migrations, got %d", len(plan))
	}
	for i, m := range plan {
		if m.Version != i+1 {
			t.Fatalf("versions must be contiguous, got %s at %d", m, i)
		}
		if !m.Reversible() {
			t.Fatalf("%s has no down script", m)
		}
	}
	if !strings.Contains(plan[1].Up, "previous_disease") {
		t.Fatalf("unexpected second migration %s", plan[1])
	}
}
