package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dashyn/assetgen/pkg/comfy"
	"github.com/dashyn/assetgen/pkg/prompts"
	"github.com/dashyn/assetgen/pkg/workflow"
)

type fakePrompts struct {
	set prompts.PromptSet
	err error
}

func (f fakePrompts) Generate(ctx context.Context, vibeName, vibeDescription string, numAssets int) (prompts.PromptSet, error) {
	return f.set, f.err
}

type fakeRenderer struct {
	calls  int
	render func(call int, graph *workflow.Graph) (comfy.Artifact, error)
}

func (f *fakeRenderer) Run(ctx context.Context, graph *workflow.Graph, timeout time.Duration) (comfy.Artifact, error) {
	f.calls++
	return f.render(f.calls, graph)
}

func archiveNames(t *testing.T, zipBase64 string) []string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(zipBase64)
	if err != nil {
		t.Fatalf("decode zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestRunPackagesAllCategories(t *testing.T) {
	renderer := &fakeRenderer{render: func(call int, graph *workflow.Graph) (comfy.Artifact, error) {
		if err := graph.Validate(); err != nil {
			t.Fatalf("renderer got invalid graph: %v", err)
		}
		return comfy.Artifact{Filename: "out.png", Data: []byte("img")}, nil
	}}

	p := New(Options{
		Prompts: fakePrompts{set: prompts.PromptSet{
			Backgrounds: []string{"bg prompt"},
			Female:      []string{"female prompt"},
			Male:        []string{"male prompt"},
		}},
		Renderer: renderer,
	})

	out, warnings, err := p.Run(context.Background(), "Cottagecore", "soft rural", 1)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if out.TotalImages != 3 || out.VibeName != "Cottagecore" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if renderer.calls != 3 {
		t.Fatalf("expected 3 renders, got %d", renderer.calls)
	}

	names := archiveNames(t, out.ZipBase64)
	want := map[string]bool{
		"backgrounds/bg_1.png": true,
		"female/female_1.png":  true,
		"male/male_1.png":      true,
	}
	for _, name := range names {
		if !want[name] {
			t.Fatalf("unexpected archive entry: %s", name)
		}
		delete(want, name)
	}
	if len(want) != 0 {
		t.Fatalf("missing archive entries: %v", want)
	}
}

func TestRunPartialFailureBecomesWarning(t *testing.T) {
	renderer := &fakeRenderer{render: func(call int, graph *workflow.Graph) (comfy.Artifact, error) {
		if call == 2 {
			return comfy.Artifact{}, &comfy.ExecutionError{Handle: "h", Messages: []string{"OOM"}}
		}
		return comfy.Artifact{Data: []byte("img")}, nil
	}}

	p := New(Options{
		Prompts: fakePrompts{set: prompts.PromptSet{
			Backgrounds: []string{"a", "b"},
		}},
		Renderer: renderer,
	})

	out, warnings, err := p.Run(context.Background(), "v", "d", 2)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.TotalImages != 1 {
		t.Fatalf("expected 1 packaged image, got %d", out.TotalImages)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "bg_2.png") || !strings.Contains(warnings[0], "OOM") {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestRunAllFailures(t *testing.T) {
	renderer := &fakeRenderer{render: func(call int, graph *workflow.Graph) (comfy.Artifact, error) {
		return comfy.Artifact{}, errors.New("boom")
	}}

	p := New(Options{
		Prompts:  fakePrompts{set: prompts.PromptSet{Backgrounds: []string{"a", "b"}}},
		Renderer: renderer,
	})

	_, warnings, err := p.Run(context.Background(), "v", "d", 2)
	if err == nil {
		t.Fatalf("expected error when every render fails")
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
}

func TestRunPromptFailure(t *testing.T) {
	p := New(Options{
		Prompts:  fakePrompts{err: errors.New("rate limited")},
		Renderer: &fakeRenderer{render: func(int, *workflow.Graph) (comfy.Artifact, error) { return comfy.Artifact{}, nil }},
	})

	_, _, err := p.Run(context.Background(), "v", "d", 1)
	if err == nil || !strings.Contains(err.Error(), "prompt generation failed") {
		t.Fatalf("expected prompt generation failure, got %v", err)
	}
}
