package mandel

// computeRow evaluates the kernel across every column of row and stores the counts in buf.
// The ordinate is derived from the row index so skipped rows never shift it.
func computeRow(g grid, kernel Kernel, row int, buf []int) []int {
	if cap(buf) < g.width {
		buf = make([]int, g.width)
	}
	buf = buf[:g.width]
	y := g.y(row)
	for col := range buf {
		buf[col] = kernel(g.x(col), y)
	}
	return buf
}
