// Package monitor samples live resource consumption and compares it
// against configured limits, dispatching control actions on breaches.
package monitor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/agentgate/agentgate/pkg/types"
)

// SampleFunc produces one reading per monitored resource type.
type SampleFunc func() ([]types.ResourceSample, error)

// Sampler reads CPU%, resident memory, and disk/network throughput
// from the host. Disk and network are rates derived from cumulative
// counters, so the first call reports zero for both.
type Sampler struct {
	proc *process.Process

	mu            sync.Mutex
	lastAt        time.Time
	lastDiskBytes uint64
	lastNetBytes  uint64
}

func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	return &Sampler{proc: proc}, nil
}

// Sample reads all four resources. Partial failures degrade to zero
// for the failing resource rather than failing the whole tick.
func (s *Sampler) Sample() ([]types.ResourceSample, error) {
	now := time.Now().UTC()
	out := make([]types.ResourceSample, 0, 4)

	cpuPct := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	out = append(out, types.ResourceSample{Resource: types.ResourceCPU, Value: cpuPct, Timestamp: now})

	memMB := 0.0
	if mi, err := s.proc.MemoryInfo(); err == nil {
		memMB = float64(mi.RSS) / (1024 * 1024)
	}
	out = append(out, types.ResourceSample{Resource: types.ResourceMemory, Value: memMB, Timestamp: now})

	diskTotal := uint64(0)
	if counters, err := disk.IOCounters(); err == nil {
		for _, c := range counters {
			diskTotal += c.ReadBytes + c.WriteBytes
		}
	}
	netTotal := uint64(0)
	if counters, err := gnet.IOCounters(false); err == nil {
		for _, c := range counters {
			netTotal += c.BytesSent + c.BytesRecv
		}
	}

	s.mu.Lock()
	diskRate := rateMBs(diskTotal, s.lastDiskBytes, now, s.lastAt)
	netRate := rateMBs(netTotal, s.lastNetBytes, now, s.lastAt)
	s.lastDiskBytes = diskTotal
	s.lastNetBytes = netTotal
	s.lastAt = now
	s.mu.Unlock()

	out = append(out,
		types.ResourceSample{Resource: types.ResourceDisk, Value: diskRate, Timestamp: now},
		types.ResourceSample{Resource: types.ResourceNetwork, Value: netRate, Timestamp: now},
	)
	return out, nil
}

// rateMBs converts a cumulative byte counter delta into MB/s. A
// non-positive elapsed time or a counter reset yields zero.
func rateMBs(cur, prev uint64, now, last time.Time) float64 {
	if last.IsZero() || cur < prev {
		return 0
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(cur-prev) / (1024 * 1024) / elapsed
}
