package mandel

// MaxIterations caps the escape-time iteration.
const MaxIterations = 511

// Kernel maps a point of the complex plane to an iteration count in [0, MaxIterations].
type Kernel func(cx, cy float64) int

// Escape iterates z = z*z + c from z = c and returns the number of iterations taken
// before |z|^2 reaches 4, or MaxIterations if it never does.
func Escape(cx, cy float64) int {
	x, y := cx, cy
	n := 0
	for ; n < MaxIterations && x*x+y*y < 4; n++ {
		x, y = x*x-y*y+cx, 2*x*y+cy
	}
	return n
}
