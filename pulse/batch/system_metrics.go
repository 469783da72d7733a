package batch

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/hubrun/errors"
)

// SystemMetrics tracks resource usage for the status endpoint
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Jobs currently in flight
	WorkersTotal  int     `json:"workers_total"`   // Workers of the current batch
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Jobs not yet terminal or in flight
	JobsRunning   int     `json:"jobs_running"`    // Jobs in flight
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}

	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// A worker mostly waits on the network; uploads and downloads buffer files.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.05 // GB per worker holding an attachment in flight
	const memoryBuffer = 1.0     // GB reserved for system

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 worker
	}

	usableMemory := availableGB - memoryBuffer
	recommended := int(usableMemory / memoryPerWorker)

	if recommended < 1 {
		return 1
	}
	if recommended > 256 {
		return 256 // Cap at reasonable maximum
	}

	return recommended
}

// checkMemoryPressure validates worker count against available memory
// Returns warning message if worker count may be too high, empty string if OK
func checkMemoryPressure(workers int) string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider lowering credential concurrency.",
			workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}

// GetSystemMetrics returns current system resource usage and the load of the current batch
func (c *Coordinator) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	m := SystemMetrics{
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
	if h := c.Current(); h != nil && h.State() == BatchRunning {
		p := h.Progress()
		m.WorkersTotal = p.Workers
		m.WorkersActive = p.InFlight
		m.JobsRunning = p.InFlight
		m.JobsQueued = p.Total - p.Completed - p.Failed - p.InFlight
	}
	return m
}
