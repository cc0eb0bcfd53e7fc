// Package render turns an assembled iteration-count matrix into a raster file.
package render

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"uk.ac.bris.cs/mandelbrot/mandel"
)

// Format is an output encoding.
type Format string

const (
	PNG  Format = "png"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// FormatOf picks the encoding from a file extension; unknown extensions are PNG.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		return BMP
	case ".tif", ".tiff":
		return TIFF
	default:
		return PNG
	}
}

// Image colours m with p. Row i of the matrix becomes pixel row i.
func Image(m *mandel.Matrix, p Palette) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x, n := range m.Row(y) {
			img.SetRGBA(x, y, p(float64(n)/Scale))
		}
	}
	return img
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("render: unknown format %q", f)
}

// File writes the image to Path. It implements mandel.Output.
type File struct {
	Path    string
	Palette Palette
	// Image, when set, receives the coloured image after it is written.
	Image func(*image.RGBA)
}

// Filename returns the output path.
func (f *File) Filename() string {
	return f.Path
}

// Write colours and encodes m. The image is written to a temporary file next to
// Path and renamed into place, so a failed write leaves no partial file.
func (f *File) Write(m *mandel.Matrix) error {
	palette := f.Palette
	if palette == nil {
		palette = HSV
	}
	img := Image(m, palette)

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+"-*")
	if err != nil {
		return fmt.Errorf("render: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, img, FormatOf(f.Path)); err != nil {
		tmp.Close()
		return fmt.Errorf("render: encode %s: %w", f.Path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("render: chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("render: rename into %s: %w", f.Path, err)
	}
	if f.Image != nil {
		f.Image(img)
	}
	return nil
}
