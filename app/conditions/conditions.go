// Package conditions samples host load. A busy host skews measured vitals, so probe runs are
// gated on load thresholds and every recorded snapshot carries the load it was taken under.
package conditions

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config defines host load thresholds, nil means not checked
type Config struct {
	CPUBelow     *int     `json:"cpu_below,omitempty"`
	MemoryBelow  *int     `json:"memory_below,omitempty"`
	LoadAvgBelow *float64 `json:"load_avg_below,omitempty"`
}

// Load is a host load sample
type Load struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Load1      float64 `json:"load1"`
}

// Checker samples host metrics with gopsutil
type Checker struct {
	cpuInterval time.Duration

	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	loadAvg       func() (*load.AvgStat, error)
}

// NewChecker makes a checker, cpuInterval is the cpu sampling window, 0 means 1s
func NewChecker(cpuInterval time.Duration) *Checker {
	if cpuInterval <= 0 {
		cpuInterval = time.Second
	}
	return &Checker{
		cpuInterval:   cpuInterval,
		cpuPercent:    cpu.Percent,
		virtualMemory: mem.VirtualMemory,
		loadAvg:       load.Avg,
	}
}

// Sample returns current cpu, memory and load average
func (c *Checker) Sample() (Load, error) {
	var res Load
	cpuPercent, err := c.cpuPercent(c.cpuInterval, false)
	if err != nil {
		return res, fmt.Errorf("failed to get CPU: %w", err)
	}
	if len(cpuPercent) > 0 {
		res.CPUPercent = cpuPercent[0]
	}

	v, err := c.virtualMemory()
	if err != nil {
		return res, fmt.Errorf("failed to get memory: %w", err)
	}
	res.MemPercent = v.UsedPercent

	loads, err := c.loadAvg()
	if err != nil {
		return res, fmt.Errorf("failed to get load average: %w", err)
	}
	res.Load1 = loads.Load1
	return res, nil
}

// Check verifies all configured thresholds.
// Returns true if conditions are satisfied, false with reason otherwise
func (c *Checker) Check(cfg Config) (bool, string) {
	if cfg.CPUBelow != nil {
		if ok, reason := c.checkCPU(*cfg.CPUBelow); !ok {
			return false, reason
		}
	}
	if cfg.MemoryBelow != nil {
		if ok, reason := c.checkMemory(*cfg.MemoryBelow); !ok {
			return false, reason
		}
	}
	if cfg.LoadAvgBelow != nil {
		if ok, reason := c.checkLoadAvg(*cfg.LoadAvgBelow); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (c *Checker) checkCPU(threshold int) (bool, string) {
	cpuPercent, err := c.cpuPercent(c.cpuInterval, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkMemory(threshold int) (bool, string) {
	v, err := c.virtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkLoadAvg(threshold float64) (bool, string) {
	loads, err := c.loadAvg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}
