package util

import (
	"time"
)

const BUF_SIZE = 3

// AvgRows averages the collection rate over the last BUF_SIZE samples.
type AvgRows struct {
	count        int
	lastRows     int
	lastCalled   time.Time
	bufRows      [BUF_SIZE]int
	bufDurations [BUF_SIZE]time.Duration
}

func NewAvgRows() *AvgRows {
	return &AvgRows{
		lastCalled: time.Now(),
	}
}

// Get records that completedRows rows are now done and returns rows per second.
func (avg *AvgRows) Get(completedRows int) int {
	avg.bufRows[avg.count%BUF_SIZE] = completedRows - avg.lastRows
	avg.bufDurations[avg.count%BUF_SIZE] = time.Since(avg.lastCalled)
	avg.lastCalled = time.Now()
	avg.lastRows = completedRows
	avg.count++
	sumRows := 0
	for _, rows := range avg.bufRows {
		sumRows += rows
	}
	sumDurations := time.Duration(0)
	for _, d := range avg.bufDurations {
		sumDurations += d
	}
	if sumDurations <= 0 {
		return 0
	}
	return int(float64(sumRows) / sumDurations.Seconds())
}
