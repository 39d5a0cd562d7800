// Package pipeline sequences one asset-generation job: prompt
// generation, one render per prompt, and packaging of everything that
// succeeded into a zip.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dashyn/assetgen/pkg/archive"
	"github.com/dashyn/assetgen/pkg/comfy"
	"github.com/dashyn/assetgen/pkg/prompts"
	"github.com/dashyn/assetgen/pkg/workflow"
)

// Asset resolutions: square backgrounds, portrait costumes.
const (
	backgroundWidth  = 1024
	backgroundHeight = 1024
	costumeWidth     = 768
	costumeHeight    = 1024

	defaultImageTimeout = 300 * time.Second
)

// PromptSource produces categorized prompt texts for a vibe.
type PromptSource interface {
	Generate(ctx context.Context, vibeName, vibeDescription string, numAssets int) (prompts.PromptSet, error)
}

// Renderer turns one generation graph into one artifact. Each call is a
// full submit/poll/fetch flow bounded by timeout.
type Renderer interface {
	Run(ctx context.Context, graph *workflow.Graph, timeout time.Duration) (comfy.Artifact, error)
}

// Logger is the minimal logging surface the pipeline needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Options configures a Pipeline.
type Options struct {
	Prompts      PromptSource
	Renderer     Renderer
	Builder      *workflow.Builder
	ImageTimeout time.Duration
	Logger       Logger
}

// Pipeline runs asset-generation jobs sequentially, one render at a
// time. A per-image failure becomes a warning; the job fails only when
// prompt generation fails or no image succeeds.
type Pipeline struct {
	prompts      PromptSource
	renderer     Renderer
	builder      *workflow.Builder
	imageTimeout time.Duration
	logger       Logger
	tracer       trace.Tracer
}

func New(opts Options) *Pipeline {
	builder := opts.Builder
	if builder == nil {
		builder = workflow.NewBuilder()
	}
	timeout := opts.ImageTimeout
	if timeout <= 0 {
		timeout = defaultImageTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Pipeline{
		prompts:      opts.Prompts,
		renderer:     opts.Renderer,
		builder:      builder,
		imageTimeout: timeout,
		logger:       logger,
		tracer:       otel.Tracer("github.com/dashyn/assetgen/pkg/pipeline"),
	}
}

// Output is the deliverable of one job.
type Output struct {
	ZipBase64   string
	VibeName    string
	TotalImages int
}

type task struct {
	category string
	filename string
	prompt   string
	width    int
	height   int
}

func buildTasks(set prompts.PromptSet) []task {
	var tasks []task
	for i, prompt := range set.Backgrounds {
		tasks = append(tasks, task{
			category: "backgrounds",
			filename: fmt.Sprintf("bg_%d.png", i+1),
			prompt:   prompt,
			width:    backgroundWidth,
			height:   backgroundHeight,
		})
	}
	for i, prompt := range set.Female {
		tasks = append(tasks, task{
			category: "female",
			filename: fmt.Sprintf("female_%d.png", i+1),
			prompt:   prompt,
			width:    costumeWidth,
			height:   costumeHeight,
		})
	}
	for i, prompt := range set.Male {
		tasks = append(tasks, task{
			category: "male",
			filename: fmt.Sprintf("male_%d.png", i+1),
			prompt:   prompt,
			width:    costumeWidth,
			height:   costumeHeight,
		})
	}
	return tasks
}

// Run executes one job and returns the packaged output plus per-image
// warnings. Warnings are returned even when the job fails so the caller
// can surface partial detail.
func (p *Pipeline) Run(ctx context.Context, vibeName, vibeDescription string, numAssets int) (Output, []string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("vibe", vibeName),
		attribute.Int("num_assets", numAssets),
	))
	defer span.End()

	set, err := p.prompts.Generate(ctx, vibeName, vibeDescription, numAssets)
	if err != nil {
		span.SetStatus(codes.Error, "prompt generation failed")
		return Output{}, nil, fmt.Errorf("prompt generation failed: %w", err)
	}

	tasks := buildTasks(set)
	p.logger.Info("job started", "vibe", vibeName, "images", len(tasks))

	var (
		assets   []archive.Asset
		warnings []string
	)
	for i, tk := range tasks {
		p.logger.Info("generating image",
			"progress", fmt.Sprintf("%d/%d", i+1, len(tasks)),
			"category", tk.category, "filename", tk.filename,
			"width", tk.width, "height", tk.height)

		data, err := p.renderOne(ctx, tk)
		if err != nil {
			msg := fmt.Sprintf("failed to generate %s/%s: %v", tk.category, tk.filename, err)
			p.logger.Warn(msg)
			warnings = append(warnings, msg)
			continue
		}

		assets = append(assets, archive.Asset{
			Name: tk.category + "/" + tk.filename,
			Data: data,
		})
	}

	if len(assets) == 0 {
		span.SetStatus(codes.Error, "all renders failed")
		return Output{}, warnings, errors.New("all image generations failed")
	}

	zipped, err := archive.Build(assets)
	if err != nil {
		span.SetStatus(codes.Error, "packaging failed")
		return Output{}, warnings, fmt.Errorf("package assets: %w", err)
	}

	p.logger.Info("job complete", "generated", len(assets), "requested", len(tasks),
		"zip_mb", fmt.Sprintf("%.1f", float64(len(zipped))/(1<<20)))

	return Output{
		ZipBase64:   base64.StdEncoding.EncodeToString(zipped),
		VibeName:    vibeName,
		TotalImages: len(assets),
	}, warnings, nil
}

func (p *Pipeline) renderOne(ctx context.Context, tk task) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(
		attribute.String("category", tk.category),
		attribute.String("filename", tk.filename),
	))
	defer span.End()

	graph := p.builder.TextToImage(workflow.TextToImageParams{
		Prompt: tk.prompt,
		Width:  tk.width,
		Height: tk.height,
	})

	artifact, err := p.renderer.Run(ctx, graph, p.imageTimeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return artifact.Data, nil
}
