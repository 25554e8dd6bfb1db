package system

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	// Version is the current daemon version, set at build time via ldflags.
	Version = "develop"

	// BootTime is the time at which this process started.
	BootTime = time.Now()
)

type Information struct {
	Version string `json:"version"`
	System  System `json:"system"`
}

type System struct {
	Architecture string `json:"architecture"`
	CPUThreads   int    `json:"cpu_threads"`
	OSType       string `json:"os_type"`
}

type Utilization struct {
	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	LoadAvg1    float64 `json:"load_average1"`
	LoadAvg5    float64 `json:"load_average5"`
	LoadAvg15   float64 `json:"load_average15"`
	CpuPercent  float64 `json:"cpu_percent"`
	UptimeSecs  int64   `json:"uptime_seconds"`
}

func GetSystemInformation() *Information {
	return &Information{
		Version: Version,
		System: System{
			Architecture: runtime.GOARCH,
			CPUThreads:   runtime.NumCPU(),
			OSType:       runtime.GOOS,
		},
	}
}

func GetSystemUtilization() (*Utilization, error) {
	c, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	l, err := load.Avg()
	if err != nil {
		return nil, err
	}

	return &Utilization{
		MemoryTotal: m.Total,
		MemoryUsed:  m.Used,
		CpuPercent:  c[0],
		LoadAvg1:    l.Load1,
		LoadAvg5:    l.Load5,
		LoadAvg15:   l.Load15,
		UptimeSecs:  int64(time.Since(BootTime).Seconds()),
	}, nil
}
