package geometry

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"remix_backend/core"
)

// fill paints a solid color so crop and stitch results can be verified by
// sampling pixels.
func fill(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPixelRect(t *testing.T) {
	box := core.BoundingBox{Y1: 0.1, X1: 0.2, Y2: 0.6, X2: 0.8}
	rect := PixelRect(box, 1000, 1000)

	if rect.Min.X != 200 || rect.Min.Y != 100 {
		t.Errorf("rect origin = (%d,%d), want (200,100)", rect.Min.X, rect.Min.Y)
	}
	if rect.Dx() != 600 || rect.Dy() != 500 {
		t.Errorf("rect size = %dx%d, want 600x500", rect.Dx(), rect.Dy())
	}
}

func TestCropDimensions(t *testing.T) {
	img := fill(1000, 1000, color.NRGBA{R: 255, A: 255})
	box := core.BoundingBox{Y1: 0.1, X1: 0.2, Y2: 0.6, X2: 0.8}

	cropped, err := Crop(img, box)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	bounds := cropped.Bounds()
	if bounds.Dx() != 600 || bounds.Dy() != 500 {
		t.Errorf("cropped size = %dx%d, want 600x500", bounds.Dx(), bounds.Dy())
	}
}

func TestCropNonZeroOriginImage(t *testing.T) {
	// A sub-image of a sub-image carries a shifted bounds origin; the crop
	// rectangle must follow it.
	base := fill(200, 200, color.NRGBA{B: 255, A: 255})
	shifted := base.SubImage(image.Rect(100, 100, 200, 200))

	cropped, err := Crop(shifted, core.BoundingBox{Y1: 0, X1: 0, Y2: 0.5, X2: 0.5})
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if cropped.Bounds().Dx() != 50 || cropped.Bounds().Dy() != 50 {
		t.Errorf("cropped size = %dx%d, want 50x50", cropped.Bounds().Dx(), cropped.Bounds().Dy())
	}
}

func TestCropErrors(t *testing.T) {
	img := fill(10, 10, color.NRGBA{A: 255})

	if _, err := Crop(img, core.BoundingBox{Y1: 0.5, X1: 0.5, Y2: 0.1, X2: 0.1}); err == nil {
		t.Error("Crop() with inverted box: want validation error")
	}

	// 0.01 of 10 pixels rounds to zero width and height.
	_, err := Crop(img, core.BoundingBox{Y1: 0.0, X1: 0.0, Y2: 0.01, X2: 0.01})
	if !errors.Is(err, ErrDegenerateRegion) {
		t.Errorf("Crop() error = %v, want ErrDegenerateRegion", err)
	}
}

func TestStitchRoundTrip(t *testing.T) {
	// Crop two regions out of a canvas-sized image and stitch them back at
	// the same boxes; the pieces must land exactly where they came from.
	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}

	source := fill(100, 100, color.NRGBA{A: 255})
	for y := 10; y < 50; y++ {
		for x := 20; x < 80; x++ {
			source.SetNRGBA(x, y, red)
		}
	}
	for y := 60; y < 90; y++ {
		for x := 10; x < 40; x++ {
			source.SetNRGBA(x, y, green)
		}
	}

	boxes := []core.BoundingBox{
		{Y1: 0.1, X1: 0.2, Y2: 0.5, X2: 0.8},
		{Y1: 0.6, X1: 0.1, Y2: 0.9, X2: 0.4},
	}

	var pieces []Piece
	for _, box := range boxes {
		cropped, err := Crop(source, box)
		if err != nil {
			t.Fatalf("Crop() error = %v", err)
		}
		pieces = append(pieces, Piece{Image: cropped, Box: box})
	}

	stitched, err := Stitch(pieces, 100, 100)
	if err != nil {
		t.Fatalf("Stitch() error = %v", err)
	}

	samples := []struct {
		x, y int
		want color.NRGBA
	}{
		{50, 30, red},
		{25, 75, green},
		{5, 5, color.NRGBA{}},
	}
	for _, s := range samples {
		got := stitched.(*image.NRGBA).NRGBAAt(s.x, s.y)
		if got != s.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", s.x, s.y, got, s.want)
		}
	}
}

func TestStitchScalesMismatchedPiece(t *testing.T) {
	// A remixed sub-region may come back at a different resolution; it is
	// scaled into its target rectangle.
	piece := Piece{
		Image: fill(30, 30, color.NRGBA{R: 200, G: 100, A: 255}),
		Box:   core.BoundingBox{Y1: 0.25, X1: 0.25, Y2: 0.75, X2: 0.75},
	}

	stitched, err := Stitch([]Piece{piece}, 100, 100)
	if err != nil {
		t.Fatalf("Stitch() error = %v", err)
	}

	center := stitched.(*image.NRGBA).NRGBAAt(50, 50)
	if center.A == 0 {
		t.Error("target rectangle center is still transparent after scaling")
	}
	corner := stitched.(*image.NRGBA).NRGBAAt(5, 5)
	if corner.A != 0 {
		t.Error("pixel outside target rectangle was written")
	}
}

func TestStitchLastPieceWins(t *testing.T) {
	box := core.BoundingBox{Y1: 0.0, X1: 0.0, Y2: 0.5, X2: 0.5}
	first := Piece{Image: fill(50, 50, color.NRGBA{R: 255, A: 255}), Box: box}
	second := Piece{Image: fill(50, 50, color.NRGBA{B: 255, A: 255}), Box: box}

	stitched, err := Stitch([]Piece{first, second}, 100, 100)
	if err != nil {
		t.Fatalf("Stitch() error = %v", err)
	}

	got := stitched.(*image.NRGBA).NRGBAAt(25, 25)
	want := color.NRGBA{B: 255, A: 255}
	if got != want {
		t.Errorf("overlap pixel = %v, want %v", got, want)
	}
}

func TestStitchErrors(t *testing.T) {
	piece := Piece{
		Image: fill(10, 10, color.NRGBA{A: 255}),
		Box:   core.BoundingBox{Y1: 0, X1: 0, Y2: 1, X2: 1},
	}

	if _, err := Stitch([]Piece{piece}, 0, 100); !errors.Is(err, ErrInvalidCanvas) {
		t.Errorf("Stitch() with zero width: error = %v, want ErrInvalidCanvas", err)
	}

	bad := Piece{
		Image: fill(10, 10, color.NRGBA{A: 255}),
		Box:   core.BoundingBox{Y1: 0.9, X1: 0.9, Y2: 0.1, X2: 0.1},
	}
	if _, err := Stitch([]Piece{bad}, 100, 100); err == nil {
		t.Error("Stitch() with inverted box: want validation error")
	}
}
