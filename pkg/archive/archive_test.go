package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestBuild(t *testing.T) {
	assets := []Asset{
		{Name: "backgrounds/bg_1.png", Data: []byte("one")},
		{Name: "female/female_1.png", Data: []byte("two")},
	}

	raw, err := Build(assets)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}

	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		got[f.Name] = string(data)
	}

	if got["backgrounds/bg_1.png"] != "one" || got["female/female_1.png"] != "two" {
		t.Fatalf("unexpected archive content: %v", got)
	}
}

func TestBuildEmpty(t *testing.T) {
	raw, err := Build(nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if _, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw))); err != nil {
		t.Fatalf("empty archive not readable: %v", err)
	}
}
