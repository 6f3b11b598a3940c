// Package geometry implements the pure image math for the remix pipeline:
// cutting per-subject sub-regions out of an image by normalized bounding
// box, and stitching processed sub-regions back onto a canvas.
//
// All boxes are normalized to [0,1] relative to the image they were
// detected on. The caller must use the same target dimensions at crop and
// stitch time; stitch performs no dimension guard.
package geometry

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"remix_backend/core"
)

// ErrDegenerateRegion is returned when a bounding box maps to a pixel
// rectangle whose width or height rounds to zero.
var ErrDegenerateRegion = errors.New("geometry: bounding box resolves to a degenerate pixel region")

// ErrInvalidCanvas is returned when a stitch canvas dimension is not positive.
var ErrInvalidCanvas = errors.New("geometry: canvas dimensions must be positive")

// Piece pairs a processed sub-region image with the box it was cut from.
type Piece struct {
	Image image.Image
	Box   core.BoundingBox
}

// PixelRect converts a normalized bounding box to a pixel rectangle for an
// image of the given natural dimensions. Coordinates are rounded to the
// nearest pixel.
func PixelRect(box core.BoundingBox, width, height int) image.Rectangle {
	x1 := int(math.Round(box.X1 * float64(width)))
	y1 := int(math.Round(box.Y1 * float64(height)))
	x2 := int(math.Round(box.X2 * float64(width)))
	y2 := int(math.Round(box.Y2 * float64(height)))
	return image.Rect(x1, y1, x2, y2)
}

// Crop cuts the sub-region described by box out of img. The pixel rectangle
// is box scaled by the image's natural dimensions.
//
// Returns ErrDegenerateRegion if the resulting width or height rounds to
// zero, or a box validation error if the box is malformed.
func Crop(img image.Image, box core.BoundingBox) (image.Image, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	rect := PixelRect(box, bounds.Dx(), bounds.Dy())
	if rect.Dx() == 0 || rect.Dy() == 0 {
		return nil, ErrDegenerateRegion
	}

	// imaging.Crop interprets the rectangle in the image's own coordinate
	// space, so shift by the bounds origin for non-zero-origin images.
	rect = rect.Add(bounds.Min)
	return imaging.Crop(img, rect), nil
}

// Stitch draws each piece onto a blank canvas of the given size at the
// pixel rectangle its box maps to. Pieces are drawn in input order, so a
// later piece overwrites any overlapping earlier one (last wins, no
// blending).
//
// The canvas dimensions must equal the dimensions that were used when the
// boxes were computed; that consistency is the caller's responsibility and
// is deliberately not checked here.
//
// A piece whose image size differs from its target rectangle is scaled
// into the rectangle with Catmull-Rom resampling; a piece that matches
// exactly is copied bit-for-bit.
func Stitch(pieces []Piece, canvasWidth, canvasHeight int) (image.Image, error) {
	if canvasWidth <= 0 || canvasHeight <= 0 {
		return nil, ErrInvalidCanvas
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, canvasWidth, canvasHeight))

	for _, piece := range pieces {
		if err := piece.Box.Validate(); err != nil {
			return nil, err
		}
		rect := PixelRect(piece.Box, canvasWidth, canvasHeight)
		if rect.Dx() == 0 || rect.Dy() == 0 {
			return nil, ErrDegenerateRegion
		}

		src := piece.Image
		srcBounds := src.Bounds()
		if srcBounds.Dx() == rect.Dx() && srcBounds.Dy() == rect.Dy() {
			xdraw.Draw(canvas, rect, src, srcBounds.Min, xdraw.Src)
		} else {
			xdraw.CatmullRom.Scale(canvas, rect, src, srcBounds, xdraw.Src, nil)
		}
	}

	return canvas, nil
}
