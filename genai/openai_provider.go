// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// openai_provider.go implements the OpenAIProvider organism backing the
// Port interface with the OpenAI API.
//
// This organism composes:
//   - atoms.go: endpoint classification
//   - parse.go: vision response parsing
//   - store.go: ImageStore for reference resolution
//   - downloader.go: fetching URL-form results
//   - go-openai client: for API calls
//
// Generation and editing go through the images API; detection and
// suggestions go through chat completions with image input and a JSON
// response format.
package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"remix_backend/core"
	"remix_backend/logging"
)

// OpenAIProvider implements Port using the OpenAI API.
//
// Thread Safety: OpenAIProvider is safe for concurrent use. The
// underlying client handles connection pooling; the ImageStore guards
// its own state.
type OpenAIProvider struct {
	client      *openai.Client
	store       *ImageStore
	downloader  *Downloader
	logger      *logging.Logger
	visionModel string
	imageModel  string
	maxRetries  int
	retryDelay  time.Duration
}

// Segment removes the background from an uploaded photo via the image
// edits endpoint, returning a cutout reference.
func (p *OpenAIProvider) Segment(ctx context.Context, req SegmentRequest) (SegmentResult, error) {
	file, cleanup, err := p.imageFile(req.Image)
	if err != nil {
		return SegmentResult{}, err
	}
	defer cleanup()

	prompt := "Remove the background completely, leaving only the people exactly as photographed " +
		"on a fully transparent background. Do not alter the subjects in any way."

	var cutout core.ImageRef
	err = p.withRetry(ctx, "segment", func(ctx context.Context) error {
		resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
			Image:  file,
			Prompt: prompt,
			Model:  p.imageModel,
			N:      1,
		})
		if err != nil {
			return fmt.Errorf("genai: segmentation failed: %w", err)
		}
		cutout, err = p.registerResponse(ctx, resp, core.StageCutout)
		return err
	})
	if err != nil {
		return SegmentResult{}, err
	}
	return SegmentResult{Cutout: cutout}, nil
}

// SuggestScenes asks the vision model for scene ideas for the cutout.
func (p *OpenAIProvider) SuggestScenes(ctx context.Context, req SuggestRequest) ([]core.SceneSuggestion, error) {
	count := req.Count
	if count <= 0 {
		count = 3
	}

	prompt := fmt.Sprintf(
		"Look at the people in this image and propose %d photo remix scene ideas that would suit them. "+
			"Respond with JSON only, in the form "+
			`{"suggestions":[{"title":"...","background_prompt":"...","foreground_prompt":"..."}]}. `+
			"background_prompt describes the scene to generate; foreground_prompt describes optional "+
			"restyling of the people and may be empty.", count)

	var suggestions []core.SceneSuggestion
	err := p.withRetry(ctx, "suggest_scenes", func(ctx context.Context) error {
		raw, err := p.visionJSON(ctx, req.Cutout, prompt)
		if err != nil {
			return err
		}
		suggestions, err = ParseSuggestions(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

// DetectSubjects asks the vision model for one bounding box per person in
// the group cutout. Boxes come back normalized to [0, 1].
func (p *OpenAIProvider) DetectSubjects(ctx context.Context, req DetectRequest) ([]core.DetectedSubject, error) {
	prompt := "Locate every distinct person in this image. Respond with JSON only, in the form " +
		`{"subjects":[{"description":"...","box":{"y1":0.0,"x1":0.0,"y2":1.0,"x2":1.0}}]}. ` +
		"Box coordinates are fractions of image height and width with the origin at the top-left, " +
		"and each box must fully contain its person. List subjects left to right."

	var subjects []core.DetectedSubject
	err := p.withRetry(ctx, "detect_subjects", func(ctx context.Context) error {
		raw, err := p.visionJSON(ctx, req.Cutout, prompt)
		if err != nil {
			return err
		}
		subjects, err = ParseDetection(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

// RemixForeground restyles the cutout per the prompt via the edits
// endpoint, preserving pose and identity.
func (p *OpenAIProvider) RemixForeground(ctx context.Context, req RemixRequest) (core.ImageRef, error) {
	if req.Prompt == "" {
		return core.ImageRef{}, fmt.Errorf("genai: remix prompt cannot be empty")
	}

	file, cleanup, err := p.imageFile(req.Cutout)
	if err != nil {
		return core.ImageRef{}, err
	}
	defer cleanup()

	prompt := fmt.Sprintf(
		"Restyle the people in this image as follows: %s. Keep their faces, poses, and positions "+
			"unchanged, and keep the background fully transparent.", req.Prompt)

	var ref core.ImageRef
	err = p.withRetry(ctx, "remix_foreground", func(ctx context.Context) error {
		resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
			Image:  file,
			Prompt: prompt,
			Model:  p.imageModel,
			N:      1,
		})
		if err != nil {
			return fmt.Errorf("genai: foreground remix failed: %w", err)
		}
		ref, err = p.registerResponse(ctx, resp, core.StageRemix)
		return err
	})
	return ref, err
}

// GenerateBackground creates a background scene from the prompt.
func (p *OpenAIProvider) GenerateBackground(ctx context.Context, req BackgroundRequest) (core.ImageRef, error) {
	if req.Prompt == "" {
		return core.ImageRef{}, fmt.Errorf("genai: background prompt cannot be empty")
	}

	imgReq := openai.ImageRequest{
		Prompt: req.Prompt + " The scene is empty of people; it will serve as a photo backdrop.",
		Model:  p.imageModel,
		Size:   backgroundSize(req.Settings),
		N:      1,
	}
	if strings.HasPrefix(p.imageModel, "dall-e") {
		imgReq.ResponseFormat = openai.CreateImageResponseFormatURL
	}

	var ref core.ImageRef
	err := p.withRetry(ctx, "generate_background", func(ctx context.Context) error {
		resp, err := p.client.CreateImage(ctx, imgReq)
		if err != nil {
			return fmt.Errorf("genai: background generation failed: %w", err)
		}
		ref, err = p.registerResponse(ctx, resp, core.StageBackground)
		return err
	})
	return ref, err
}

// CompositeImages blends the foreground into the background.
//
// The blend happens in two steps: a local draft places the scaled
// foreground over the background, then the edits endpoint harmonizes
// lighting and edges so the result reads as one photograph.
func (p *OpenAIProvider) CompositeImages(ctx context.Context, req CompositeRequest) (core.ImageRef, error) {
	draft, err := p.composeDraft(req.Foreground, req.Background)
	if err != nil {
		return core.ImageRef{}, err
	}
	draftRef, err := p.store.Put(core.StageComposite, draft)
	if err != nil {
		return core.ImageRef{}, err
	}

	file, cleanup, err := p.imageFile(draftRef)
	if err != nil {
		return core.ImageRef{}, err
	}
	defer cleanup()

	prompt := "Blend the people seamlessly into the scene: match lighting, color temperature, and " +
		"shadows so the image looks like a single photograph. Do not move or restyle the people."
	if req.Settings.LightingMatch {
		prompt += " Pay particular attention to matching the scene's light direction."
	}
	if req.Settings.Blend != "" {
		prompt += fmt.Sprintf(" Use a %s blending style.", req.Settings.Blend)
	}

	var ref core.ImageRef
	err = p.withRetry(ctx, "composite_images", func(ctx context.Context) error {
		resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
			Image:  file,
			Prompt: prompt,
			Model:  p.imageModel,
			N:      1,
		})
		if err != nil {
			return fmt.Errorf("genai: compositing failed: %w", err)
		}
		ref, err = p.registerResponse(ctx, resp, core.StageComposite)
		return err
	})
	return ref, err
}

// visionJSON sends one image plus an instruction to the vision model and
// returns the raw text of the first choice.
func (p *OpenAIProvider) visionJSON(ctx context.Context, ref core.ImageRef, prompt string) (string, error) {
	data, err := p.store.EncodePNG(ref)
	if err != nil {
		return "", err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("genai: vision call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("genai: vision call returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// registerResponse pulls the first image out of an API response into the
// store. The API returns either inline base64 or a temporary URL
// depending on model.
func (p *OpenAIProvider) registerResponse(ctx context.Context, resp openai.ImageResponse, stage core.ImageStage) (core.ImageRef, error) {
	if len(resp.Data) == 0 {
		return core.ImageRef{}, fmt.Errorf("genai: API returned no image data")
	}

	item := resp.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return core.ImageRef{}, fmt.Errorf("genai: failed to decode base64 image: %w", err)
		}
		return p.store.PutEncoded(stage, data)
	}
	if item.URL == "" {
		return core.ImageRef{}, fmt.Errorf("genai: API returned neither base64 data nor a URL")
	}

	data, _, err := p.downloader.DownloadBytes(ctx, item.URL)
	if err != nil {
		return core.ImageRef{}, err
	}
	return p.store.PutEncoded(stage, data)
}

// imageFile resolves a reference to an open *os.File for multipart
// upload. Images already mirrored to disk are opened in place; memory-only
// images are written to a temporary PNG first. The returned cleanup must
// be called after the upload completes.
func (p *OpenAIProvider) imageFile(ref core.ImageRef) (*os.File, func(), error) {
	if path := p.store.Path(ref); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("genai: failed to open image file: %w", err)
		}
		return file, func() { file.Close() }, nil
	}

	data, err := p.store.EncodePNG(ref)
	if err != nil {
		return nil, nil, err
	}

	tmp, err := os.CreateTemp("", "remix-*.png")
	if err != nil {
		return nil, nil, fmt.Errorf("genai: failed to create temp image file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, nil, fmt.Errorf("genai: failed to write temp image file: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, nil, fmt.Errorf("genai: failed to rewind temp image file: %w", err)
	}
	return tmp, func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}, nil
}

// composeDraft scales the foreground to fit the background and draws it
// centered with its feet at the lower quarter of the scene.
func (p *OpenAIProvider) composeDraft(fgRef, bgRef core.ImageRef) (image.Image, error) {
	fg, err := p.store.Get(fgRef)
	if err != nil {
		return nil, err
	}
	bg, err := p.store.Get(bgRef)
	if err != nil {
		return nil, err
	}

	bgBounds := bg.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, bgBounds.Dx(), bgBounds.Dy()))
	xdraw.Draw(canvas, canvas.Bounds(), bg, bgBounds.Min, xdraw.Src)

	fgBounds := fg.Bounds()
	// Foreground occupies at most 85% of the scene height, preserving aspect.
	targetH := bgBounds.Dy() * 85 / 100
	targetW := fgBounds.Dx() * targetH / fgBounds.Dy()
	if targetW > bgBounds.Dx() {
		targetW = bgBounds.Dx()
		targetH = fgBounds.Dy() * targetW / fgBounds.Dx()
	}

	x0 := (bgBounds.Dx() - targetW) / 2
	y0 := bgBounds.Dy() - targetH - bgBounds.Dy()/20
	if y0 < 0 {
		y0 = 0
	}
	dst := image.Rect(x0, y0, x0+targetW, y0+targetH)
	xdraw.CatmullRom.Scale(canvas, dst, fg, fgBounds, xdraw.Over, nil)

	return canvas, nil
}

// withRetry runs fn, retrying transient failures up to maxRetries times
// with a fixed delay. Quota and generic failures are returned immediately.
func (p *OpenAIProvider) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	attempts := p.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if core.NormalizeFailure(lastErr) != core.FailureTransient || attempt == attempts {
			return lastErr
		}

		p.logger.Warn("Transient AI call failure, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
	return lastErr
}

// backgroundSize maps the requested output dimensions onto a supported
// generation size.
func backgroundSize(settings core.CompositionSettings) string {
	w, h := settings.OutputWidth, settings.OutputHeight
	switch {
	case w > h && w > 0:
		return "1536x1024"
	case h > w && h > 0:
		return "1024x1536"
	default:
		return "1024x1024"
	}
}

// Ensure OpenAIProvider implements Port at compile time.
var _ Port = (*OpenAIProvider)(nil)
