package mandel

import "fmt"

// Matrix is the height x width image of iteration counts assembled at the root.
// Each row may be written once.
type Matrix struct {
	Height, Width int
	cells         []int
	filled        []bool
	rows          int
}

// NewMatrix allocates an empty matrix.
func NewMatrix(height, width int) *Matrix {
	return &Matrix{
		Height: height,
		Width:  width,
		cells:  make([]int, height*width),
		filled: make([]bool, height),
	}
}

// SetRow copies buf into row i.
func (m *Matrix) SetRow(i int, buf []int) error {
	if i < 0 || i >= m.Height {
		return fmt.Errorf("mandel: row %d out of range [0,%d)", i, m.Height)
	}
	if len(buf) != m.Width {
		return fmt.Errorf("%w: row %d has %d columns, want %d", ErrProtocol, i, len(buf), m.Width)
	}
	if m.filled[i] {
		return fmt.Errorf("%w: row %d assembled twice", ErrProtocol, i)
	}
	copy(m.cells[i*m.Width:(i+1)*m.Width], buf)
	m.filled[i] = true
	m.rows++
	return nil
}

// Row returns row i. The slice aliases the matrix.
func (m *Matrix) Row(i int) []int {
	return m.cells[i*m.Width : (i+1)*m.Width]
}

// At returns the count at row y, column x.
func (m *Matrix) At(y, x int) int {
	return m.cells[y*m.Width+x]
}

// Filled reports whether row i has been assembled.
func (m *Matrix) Filled(i int) bool {
	return m.filled[i]
}

// Assembled returns the number of rows written so far.
func (m *Matrix) Assembled() int {
	return m.rows
}

// Complete reports whether every row has been written.
func (m *Matrix) Complete() bool {
	return m.rows == m.Height
}

// Missing lists unassembled rows.
func (m *Matrix) Missing() []int {
	var missing []int
	for i, ok := range m.filled {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}
