package sdl

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

// Window is an SDL window backed by a streaming RGBA pixel buffer.
type Window struct {
	Width, Height int32
	window        *sdl.Window
	renderer      *sdl.Renderer
	texture       *sdl.Texture
	pixels        []byte
}

// undoStack releases partially created SDL resources in reverse order.
type undoStack []func()

func (u *undoStack) push(f func()) { *u = append(*u, f) }

func (u undoStack) run() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

// NewWindow opens a window. It must be called on the locked main OS thread.
// On failure everything created so far is destroyed and SDL is shut down.
func NewWindow(width, height int32) (w *Window, err error) {
	var undo undoStack
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl: init: %w", err)
	}
	undo.push(sdl.Quit)
	window, err := sdl.CreateWindow("Mandelbrot", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		width, height, sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, fmt.Errorf("sdl: create window: %w", err)
	}
	undo.push(func() { window.Destroy() })
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return nil, fmt.Errorf("sdl: create renderer: %w", err)
	}
	undo.push(func() { renderer.Destroy() })
	if err := renderer.SetLogicalSize(width, height); err != nil {
		return nil, fmt.Errorf("sdl: logical size: %w", err)
	}
	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ABGR8888, sdl.TEXTUREACCESS_STATIC, width, height)
	if err != nil {
		return nil, fmt.Errorf("sdl: create texture: %w", err)
	}
	return &Window{
		Width:    width,
		Height:   height,
		window:   window,
		renderer: renderer,
		texture:  texture,
		pixels:   make([]byte, width*height*4),
	}, nil
}

// Destroy releases the window and shuts SDL down.
func (w *Window) Destroy() {
	w.texture.Destroy()
	w.renderer.Destroy()
	w.window.Destroy()
	sdl.Quit()
}

// SetPixel stores an opaque colour at (x, y).
func (w *Window) SetPixel(x, y int, r, g, b uint8) {
	i := 4 * (y*int(w.Width) + x)
	w.pixels[i+0] = r
	w.pixels[i+1] = g
	w.pixels[i+2] = b
	w.pixels[i+3] = 255
}

// Draw copies img into the pixel buffer, clipped to the window.
func (w *Window) Draw(img *image.RGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy() && y < int(w.Height); y++ {
		for x := 0; x < b.Dx() && x < int(w.Width); x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			w.SetPixel(x, y, c.R, c.G, c.B)
		}
	}
}

// ClearPixels blanks the buffer.
func (w *Window) ClearPixels() {
	for i := range w.pixels {
		w.pixels[i] = 0
	}
}

// RenderFrame uploads the buffer and presents it.
func (w *Window) RenderFrame() {
	if err := w.texture.Update(nil, unsafe.Pointer(&w.pixels[0]), int(w.Width*4)); err != nil {
		panic(err)
	}
	w.renderer.Clear()
	w.renderer.Copy(w.texture, nil, nil)
	w.renderer.Present()
}

// PollEvent drains pending SDL events and reports whether the user asked to quit.
func (w *Window) PollEvent() (quit bool) {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return true
		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN && (e.Keysym.Sym == sdl.K_q || e.Keysym.Sym == sdl.K_ESCAPE) {
				return true
			}
		}
	}
	return false
}
