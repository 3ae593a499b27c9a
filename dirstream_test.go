package binlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseBinlogName(t *testing.T) {
	cases := []struct {
		name     string
		wantBase string
		wantSeq  int
		wantOk   bool
	}{
		{"mysql-bin.000042", "mysql-bin", 42, true},
		{"mysql-bin.index", "mysql-bin", 0, false},
		{"noext", "", 0, false},
	}
	for _, tc := range cases {
		base, seq, ok := parseBinlogName(tc.name)
		if ok != tc.wantOk || (ok && (base != tc.wantBase || seq != tc.wantSeq)) {
			t.Errorf("parseBinlogName(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tc.name, base, seq, ok, tc.wantBase, tc.wantSeq, tc.wantOk)
		}
	}
}

func TestOpenDir_OrdersBySequence(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"mysql-bin.000002", "mysql-bin.000001"} {
		if err := os.WriteFile(filepath.Join(dir, name), binlogFileMagic, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ds, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	if ds.binlogFile != "mysql-bin.000001" {
		t.Fatalf("opened %q first, want mysql-bin.000001", ds.binlogFile)
	}
	if len(ds.names) != 1 || ds.names[0] != "mysql-bin.000002" {
		t.Fatalf("remaining names = %v, want [mysql-bin.000002]", ds.names)
	}
}

func TestOpenDir_BadMagic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mysql-bin.000001"), []byte("not a binlog"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenDir(dir); err == nil {
		t.Fatal("expected an error for a file missing the binlog magic header")
	}
}

func TestOpenDir_NoFiles(t *testing.T) {
	if _, err := OpenDir(t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory with no binlog files")
	}
}

func TestDirStream_NextEvent_EOFAtEndOfLastFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mysql-bin.000001"), binlogFileMagic, 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	if _, err := ds.NextEvent(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}
