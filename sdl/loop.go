package sdl

import (
	"image"
	"time"
)

// Show displays img until the window is closed or q/Escape is pressed.
// Call it from the goroutine that owns the main OS thread.
func Show(img *image.RGBA) error {
	b := img.Bounds()
	w, err := NewWindow(int32(b.Dx()), int32(b.Dy()))
	if err != nil {
		return err
	}
	defer w.Destroy()

	w.Draw(img)
	w.RenderFrame()

	fps := 60
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for range ticker.C {
		if w.PollEvent() {
			return nil
		}
		w.RenderFrame()
	}
	return nil
}
