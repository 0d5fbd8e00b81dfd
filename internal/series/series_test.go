package series

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSkipsGaps(t *testing.T) {
	got, err := Parse([]byte(`{"open":[1,2,3],"close":[3988.5,null,"n/a",-1,3989.25]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d prices want 2: %v", len(got), got)
	}
	if got[1].String() != "3989.25" {
		t.Fatalf("second price got %s", got[1])
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse([]byte(`{"close":[null]}`)); err == nil {
		t.Fatal("expected error for a series without prices")
	}
}

func TestLoadDefaultAndFile(t *testing.T) {
	def, err := Load("")
	if err != nil {
		t.Fatalf("embedded series: %v", err)
	}
	if len(def) < 100 {
		t.Fatalf("embedded series too short: %d", len(def))
	}

	path := filepath.Join(t.TempDir(), "sim_data.json")
	if err := os.WriteFile(path, []byte(`{"close":[10,11]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d prices want 2", len(got))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
