// Package report formats the per-rank load summary printed at the coordinator.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"uk.ac.bris.cs/mandelbrot/mandel"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Table renders one line per rank: rows owned, iterations spent and share of the total.
func Table(strategy string, loads []mandel.RankLoad, imbalance float64) string {
	var total int64
	for _, l := range loads {
		total += l.Iterations
	}
	rows := make([][]string, 0, len(loads))
	for _, l := range loads {
		share := 0.0
		if total > 0 {
			share = 100 * float64(l.Iterations) / float64(total)
		}
		rows = append(rows, []string{
			strconv.Itoa(l.Rank),
			strconv.Itoa(l.Rows),
			strconv.FormatInt(l.Iterations, 10),
			fmt.Sprintf("%.1f%%", share),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("rank", "rows", "iterations", "share").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s partition, imbalance %.2f (max/mean)", strategy, imbalance)))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
