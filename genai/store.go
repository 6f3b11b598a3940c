// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// store.go implements the ImageStore molecule that resolves ImageRef
// handles to pixel data. Pipeline state carries only references; the
// store is where the bytes actually live.
package genai

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	_ "image/jpeg"

	"github.com/google/uuid"

	"remix_backend/core"
)

// ImageStore holds decoded images keyed by reference ID. Images from the
// external service are registered here as they arrive; geometry operations
// and follow-up external calls resolve references back to pixels.
//
// When a persist directory is configured, each stored image is also
// written to disk as PNG so the artifacts of a run can be inspected and
// re-sent to the edits endpoint as files.
//
// Thread Safety: ImageStore is safe for concurrent use.
type ImageStore struct {
	mu     sync.RWMutex
	images map[string]image.Image
	paths  map[string]string
	dir    string
}

// NewImageStore creates a memory-only store.
func NewImageStore() *ImageStore {
	return &ImageStore{
		images: make(map[string]image.Image),
		paths:  make(map[string]string),
	}
}

// NewPersistentImageStore creates a store that mirrors every image to the
// given directory as PNG files.
func NewPersistentImageStore(dir string) (*ImageStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("genai: persist directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("genai: failed to create image directory: %w", err)
	}
	s := NewImageStore()
	s.dir = dir
	return s, nil
}

// Put registers a decoded image and returns its reference. The reference
// carries the image's natural dimensions.
func (s *ImageStore) Put(stage core.ImageStage, img image.Image) (core.ImageRef, error) {
	if img == nil {
		return core.ImageRef{}, fmt.Errorf("genai: image cannot be nil")
	}

	bounds := img.Bounds()
	ref := core.ImageRef{
		ID:     uuid.NewString(),
		Stage:  stage,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	var path string
	if s.dir != "" {
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%s.png", stage, ref.ID))
		if err := writePNG(path, img); err != nil {
			return core.ImageRef{}, err
		}
	}

	s.mu.Lock()
	s.images[ref.ID] = img
	if path != "" {
		s.paths[ref.ID] = path
	}
	s.mu.Unlock()

	return ref, nil
}

// PutEncoded decodes raw PNG/JPEG bytes and registers the result.
func (s *ImageStore) PutEncoded(stage core.ImageStage, data []byte) (core.ImageRef, error) {
	if len(data) == 0 {
		return core.ImageRef{}, fmt.Errorf("genai: image data cannot be empty")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return core.ImageRef{}, fmt.Errorf("genai: failed to decode image data: %w", err)
	}
	return s.Put(stage, img)
}

// Get resolves a reference to its decoded image.
func (s *ImageStore) Get(ref core.ImageRef) (image.Image, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("genai: image reference is empty")
	}

	s.mu.RLock()
	img, ok := s.images[ref.ID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("genai: no image stored for reference %s", ref.ID)
	}
	return img, nil
}

// Path returns the on-disk PNG path for a reference, or empty when the
// store is memory-only.
func (s *ImageStore) Path(ref core.ImageRef) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths[ref.ID]
}

// EncodePNG resolves a reference and returns its PNG encoding. Used when
// an external call needs the image as an upload body.
func (s *ImageStore) EncodePNG(ref core.ImageRef) ([]byte, error) {
	img, err := s.Get(ref)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("genai: failed to encode image %s: %w", ref.ID, err)
	}
	return buf.Bytes(), nil
}

// Len returns the number of stored images.
func (s *ImageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("genai: failed to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		os.Remove(path)
		return fmt.Errorf("genai: failed to write image file: %w", err)
	}
	return nil
}
