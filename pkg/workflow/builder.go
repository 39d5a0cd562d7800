package workflow

import "math/rand"

// Model files and sampling constants for Qwen-Image text-to-image. Only
// prompt, width, height and seed vary per request.
const (
	defaultUNetModel = "qwen_image_fp8_e4m3fn.safetensors"
	defaultCLIPModel = "qwen_2.5_vl_7b_fp8_scaled.safetensors"
	defaultVAEModel  = "qwen_image_vae.safetensors"

	defaultSteps         = 15
	defaultCFG           = 1.0
	defaultSamplerName   = "euler"
	defaultScheduler     = "simple"
	defaultAuraFlowShift = 3.1

	filenamePrefix = "dashyn_asset"
)

// Builder constructs text-to-image generation graphs for Qwen-Image.
type Builder struct {
	UNetModel     string
	CLIPModel     string
	VAEModel      string
	Steps         int
	CFG           float64
	SamplerName   string
	Scheduler     string
	AuraFlowShift float64
}

// NewBuilder returns a Builder carrying the Qwen-Image defaults.
func NewBuilder() *Builder {
	return &Builder{
		UNetModel:     defaultUNetModel,
		CLIPModel:     defaultCLIPModel,
		VAEModel:      defaultVAEModel,
		Steps:         defaultSteps,
		CFG:           defaultCFG,
		SamplerName:   defaultSamplerName,
		Scheduler:     defaultScheduler,
		AuraFlowShift: defaultAuraFlowShift,
	}
}

// TextToImageParams are the per-request inputs. A nil Seed draws a fresh
// uniform 32-bit value.
type TextToImageParams struct {
	Prompt string
	Width  int
	Height int
	Seed   *int64
}

// TextToImage builds the fixed ten-node T2I topology: model loader →
// sampling config → text encoder → positive/negative encodes → empty
// latent → sampler → VAE loader → decode → save. Construction cannot
// fail given well-typed inputs; Validate guards hand-edited graphs.
func (b *Builder) TextToImage(params TextToImageParams) *Graph {
	seed := rand.Int63n(1 << 32)
	if params.Seed != nil {
		seed = *params.Seed
	}

	g := NewGraph()

	g.Add("1", Node{
		ClassType: "UNETLoader",
		Inputs: map[string]any{
			"unet_name":    b.UNetModel,
			"weight_dtype": "fp8_e4m3fn",
		},
	})
	g.Add("2", Node{
		ClassType: "ModelSamplingAuraFlow",
		Inputs: map[string]any{
			"shift": b.AuraFlowShift,
			"model": NodeRef{ID: "1"},
		},
	})
	g.Add("3", Node{
		ClassType: "CLIPLoader",
		Inputs: map[string]any{
			"clip_name": b.CLIPModel,
			"type":      "qwen_image",
			"device":    "default",
		},
	})
	g.Add("4", Node{
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": params.Prompt,
			"clip": NodeRef{ID: "3"},
		},
	})
	// Negative branch stays empty; CFG 1.0 ignores it.
	g.Add("5", Node{
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": "",
			"clip": NodeRef{ID: "3"},
		},
	})
	g.Add("6", Node{
		ClassType: "EmptySD3LatentImage",
		Inputs: map[string]any{
			"width":      params.Width,
			"height":     params.Height,
			"batch_size": 1,
		},
	})
	g.Add("7", Node{
		ClassType: "KSampler",
		Inputs: map[string]any{
			"seed":         seed,
			"steps":        b.Steps,
			"cfg":          b.CFG,
			"sampler_name": b.SamplerName,
			"scheduler":    b.Scheduler,
			"denoise":      1.0,
			"model":        NodeRef{ID: "2"},
			"positive":     NodeRef{ID: "4"},
			"negative":     NodeRef{ID: "5"},
			"latent_image": NodeRef{ID: "6"},
		},
	})
	g.Add("8", Node{
		ClassType: "VAELoader",
		Inputs: map[string]any{
			"vae_name": b.VAEModel,
		},
	})
	g.Add("9", Node{
		ClassType: "VAEDecode",
		Inputs: map[string]any{
			"samples": NodeRef{ID: "7"},
			"vae":     NodeRef{ID: "8"},
		},
	})
	g.Add("10", Node{
		ClassType: "SaveImage",
		Inputs: map[string]any{
			"filename_prefix": filenamePrefix,
			"images":          NodeRef{ID: "9"},
		},
	})

	return g
}
