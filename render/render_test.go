package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"uk.ac.bris.cs/mandelbrot/mandel"
)

func testMatrix(t *testing.T) *mandel.Matrix {
	t.Helper()
	m := mandel.NewMatrix(2, 3)
	rows := [][]int{{0, 100, mandel.MaxIterations}, {mandel.MaxIterations, 1, 2}}
	for i, row := range rows {
		if err := m.SetRow(i, row); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestPalettes(t *testing.T) {
	in := float64(mandel.MaxIterations) / Scale
	if c := HSV(in); c != black {
		t.Errorf("HSV(in set) = %v, want black", c)
	}
	if c := Wheel(in); c != black {
		t.Errorf("Wheel(in set) = %v, want black", c)
	}
	if c := HSV(0); c == black {
		t.Error("HSV(0) is black")
	}
	if c := Gray(0); c.R != 0 || c.A != 255 {
		t.Errorf("Gray(0) = %v", c)
	}
	if c := Gray(1); c.R != 255 {
		t.Errorf("Gray(1) = %v", c)
	}
	if Wheel(1/Scale) == Wheel(2/Scale) {
		t.Error("adjacent wheel colours are equal")
	}
	for _, name := range []string{"", "hsv", "Gray", "grey", "wheel"} {
		if _, err := ParsePalette(name); err != nil {
			t.Errorf("ParsePalette(%q): %v", name, err)
		}
	}
	if _, err := ParsePalette("sepia"); err == nil {
		t.Error("ParsePalette(sepia) succeeded")
	}
}

func TestImageOrientation(t *testing.T) {
	img := Image(testMatrix(t), HSV)
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("bounds %v, want 3x2", b)
	}
	if img.RGBAAt(2, 0) != black || img.RGBAAt(0, 1) != black {
		t.Error("in-set pixels are not black at their matrix positions")
	}
	if img.RGBAAt(0, 0) == black {
		t.Error("escaping pixel painted black")
	}
}

func TestFileFormats(t *testing.T) {
	dir := t.TempDir()
	m := testMatrix(t)
	for _, name := range []string{"m.png", "m.bmp", "m.tiff"} {
		path := filepath.Join(dir, name)
		if err := (&File{Path: path}).Write(m); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		switch FormatOf(path) {
		case PNG:
			_, err = png.Decode(f)
		case BMP:
			_, err = bmp.Decode(f)
		case TIFF:
			_, err = tiff.Decode(f)
		}
		f.Close()
		if err != nil {
			t.Errorf("%s does not decode: %v", name, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("%d files in output dir, want 3 (temp files left behind?)", len(entries))
	}
}

func TestFileNoPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "mandelbrot.png")
	err := (&File{Path: path}).Write(testMatrix(t))
	if err == nil {
		t.Fatal("write into a missing directory succeeded")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output exists after failed write: %v", err)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	m := testMatrix(t)
	var a, b bytes.Buffer
	if err := Encode(&a, Image(m, HSV), PNG); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&b, Image(m, HSV), PNG); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("encoding the same matrix twice gave different bytes")
	}
	if err := Encode(&a, Image(m, HSV), Format("gif")); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestFileImageCallback(t *testing.T) {
	called := false
	f := &File{Path: filepath.Join(t.TempDir(), "m.png"), Palette: Gray}
	f.Image = func(img *image.RGBA) { called = img.Bounds().Dx() == 3 }
	if err := f.Write(testMatrix(t)); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("Image callback not called with the rendered image")
	}
	if f.Filename() != f.Path {
		t.Errorf("Filename() = %q", f.Filename())
	}
}
