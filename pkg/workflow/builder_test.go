package workflow

import "testing"

func TestTextToImageTopology(t *testing.T) {
	b := NewBuilder()
	g := b.TextToImage(TextToImageParams{Prompt: "a red barn", Width: 576, Height: 1024})

	if g.Len() != 10 {
		t.Fatalf("expected 10 nodes, got %d", g.Len())
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected acyclic graph with closed references, got %v", err)
	}

	latent, ok := g.Node("6")
	if !ok {
		t.Fatalf("latent node missing")
	}
	if latent.Inputs["width"] != 576 || latent.Inputs["height"] != 1024 {
		t.Fatalf("dimensions not propagated: %+v", latent.Inputs)
	}

	positive, _ := g.Node("4")
	if positive.Inputs["text"] != "a red barn" {
		t.Fatalf("prompt not propagated: %+v", positive.Inputs)
	}
	negative, _ := g.Node("5")
	if negative.Inputs["text"] != "" {
		t.Fatalf("negative prompt should be empty: %+v", negative.Inputs)
	}
}

func TestTextToImageSamplerConstants(t *testing.T) {
	g := NewBuilder().TextToImage(TextToImageParams{Prompt: "p", Width: 1024, Height: 1024})

	sampler, ok := g.Node("7")
	if !ok {
		t.Fatalf("sampler node missing")
	}
	if sampler.Inputs["steps"] != 15 {
		t.Fatalf("unexpected steps: %v", sampler.Inputs["steps"])
	}
	if sampler.Inputs["cfg"] != 1.0 {
		t.Fatalf("unexpected cfg: %v", sampler.Inputs["cfg"])
	}
	if sampler.Inputs["sampler_name"] != "euler" || sampler.Inputs["scheduler"] != "simple" {
		t.Fatalf("unexpected sampler config: %+v", sampler.Inputs)
	}
	if sampler.Inputs["denoise"] != 1.0 {
		t.Fatalf("unexpected denoise: %v", sampler.Inputs["denoise"])
	}
}

func TestTextToImageSeed(t *testing.T) {
	fixed := int64(42)
	g := NewBuilder().TextToImage(TextToImageParams{Prompt: "p", Width: 64, Height: 64, Seed: &fixed})
	sampler, _ := g.Node("7")
	if sampler.Inputs["seed"] != int64(42) {
		t.Fatalf("fixed seed not respected: %v", sampler.Inputs["seed"])
	}

	g = NewBuilder().TextToImage(TextToImageParams{Prompt: "p", Width: 64, Height: 64})
	sampler, _ = g.Node("7")
	seed, ok := sampler.Inputs["seed"].(int64)
	if !ok {
		t.Fatalf("random seed has wrong type: %T", sampler.Inputs["seed"])
	}
	if seed < 0 || seed >= 1<<32 {
		t.Fatalf("random seed out of 32-bit range: %d", seed)
	}
}
