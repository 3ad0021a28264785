// internal/cluster/snapshot.go
package cluster

import (
	"time"
)

// Memory is a host memory breakdown in bytes
type Memory struct {
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Free      float64 `json:"free"`
	Shared    float64 `json:"shared"`
	BuffCache float64 `json:"buff/cache"`
	Available float64 `json:"available"`
}

// Add returns the field-wise sum
func (m Memory) Add(o Memory) Memory {
	return Memory{
		Total:     m.Total + o.Total,
		Used:      m.Used + o.Used,
		Free:      m.Free + o.Free,
		Shared:    m.Shared + o.Shared,
		BuffCache: m.BuffCache + o.BuffCache,
		Available: m.Available + o.Available,
	}
}

// Div returns every field divided by n
func (m Memory) Div(n float64) Memory {
	return Memory{
		Total:     m.Total / n,
		Used:      m.Used / n,
		Free:      m.Free / n,
		Shared:    m.Shared / n,
		BuffCache: m.BuffCache / n,
		Available: m.Available / n,
	}
}

// CPU is the share of CPU time per category, in percent
type CPU struct {
	User      float64 `json:"usr"`
	Nice      float64 `json:"nice"`
	System    float64 `json:"sys"`
	IOWait    float64 `json:"iowait"`
	IRQ       float64 `json:"irq"`
	SoftIRQ   float64 `json:"soft"`
	Steal     float64 `json:"steal"`
	Guest     float64 `json:"guest"`
	GuestNice float64 `json:"gnice"`
	Idle      float64 `json:"idle"`
}

// Add returns the field-wise sum
func (c CPU) Add(o CPU) CPU {
	return CPU{
		User:      c.User + o.User,
		Nice:      c.Nice + o.Nice,
		System:    c.System + o.System,
		IOWait:    c.IOWait + o.IOWait,
		IRQ:       c.IRQ + o.IRQ,
		SoftIRQ:   c.SoftIRQ + o.SoftIRQ,
		Steal:     c.Steal + o.Steal,
		Guest:     c.Guest + o.Guest,
		GuestNice: c.GuestNice + o.GuestNice,
		Idle:      c.Idle + o.Idle,
	}
}

// Div returns every field divided by n
func (c CPU) Div(n float64) CPU {
	return CPU{
		User:      c.User / n,
		Nice:      c.Nice / n,
		System:    c.System / n,
		IOWait:    c.IOWait / n,
		IRQ:       c.IRQ / n,
		SoftIRQ:   c.SoftIRQ / n,
		Steal:     c.Steal / n,
		Guest:     c.Guest / n,
		GuestNice: c.GuestNice / n,
		Idle:      c.Idle / n,
	}
}

// Ping is round-trip latency to a host in milliseconds
type Ping struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// Add returns the field-wise sum
func (p Ping) Add(o Ping) Ping {
	return Ping{Min: p.Min + o.Min, Avg: p.Avg + o.Avg, Max: p.Max + o.Max}
}

// Div returns every field divided by n
func (p Ping) Div(n float64) Ping {
	return Ping{Min: p.Min / n, Avg: p.Avg / n, Max: p.Max / n}
}

// HostSnapshot is one reading of a single host
type HostSnapshot struct {
	Host      string    `json:"host"`
	Memory    Memory    `json:"memory"`
	CPU       CPU       `json:"stats"`
	Ping      Ping      `json:"ping"`
	Timestamp time.Time `json:"timestamp"`
}

// Add sums the readings; host and timestamp are kept from the receiver
func (h HostSnapshot) Add(o HostSnapshot) HostSnapshot {
	return HostSnapshot{
		Host:      h.Host,
		Memory:    h.Memory.Add(o.Memory),
		CPU:       h.CPU.Add(o.CPU),
		Ping:      h.Ping.Add(o.Ping),
		Timestamp: h.Timestamp,
	}
}

// Div divides the readings by n
func (h HostSnapshot) Div(n float64) HostSnapshot {
	return HostSnapshot{
		Host:      h.Host,
		Memory:    h.Memory.Div(n),
		CPU:       h.CPU.Div(n),
		Ping:      h.Ping.Div(n),
		Timestamp: h.Timestamp,
	}
}

// Snapshot is a point-in-time reading of every monitored host, keyed by host
type Snapshot struct {
	Hosts     map[string]HostSnapshot `json:"servers"`
	Timestamp time.Time               `json:"timestamp"`
}

// Add sums two snapshots host by host. A host present in only one side is
// carried over unchanged.
func (s Snapshot) Add(o Snapshot) Snapshot {
	out := Snapshot{Hosts: make(map[string]HostSnapshot, len(s.Hosts)), Timestamp: s.Timestamp}
	for name, h := range s.Hosts {
		out.Hosts[name] = h
	}
	for name, h := range o.Hosts {
		if cur, ok := out.Hosts[name]; ok {
			out.Hosts[name] = cur.Add(h)
		} else {
			out.Hosts[name] = h
		}
	}
	return out
}

// Div divides every host reading by n
func (s Snapshot) Div(n float64) Snapshot {
	out := Snapshot{Hosts: make(map[string]HostSnapshot, len(s.Hosts)), Timestamp: s.Timestamp}
	for name, h := range s.Hosts {
		out.Hosts[name] = h.Div(n)
	}
	return out
}

// Average computes the per-host mean of the given snapshots. Each host is
// divided by the number of snapshots it actually appears in, so a host that
// dropped out of a few samples is not skewed toward zero. The result is
// stamped with the midpoint of the sampled interval. ok is false when snaps
// is empty.
func Average(snaps []Snapshot) (avg Snapshot, ok bool) {
	if len(snaps) == 0 {
		return Snapshot{}, false
	}

	sums := make(map[string]HostSnapshot)
	counts := make(map[string]int)
	for _, snap := range snaps {
		for name, h := range snap.Hosts {
			if cur, seen := sums[name]; seen {
				sums[name] = cur.Add(h)
			} else {
				h.Host = name
				sums[name] = h
			}
			counts[name]++
		}
	}

	first, last := snaps[0].Timestamp, snaps[len(snaps)-1].Timestamp
	mid := first.Add(last.Sub(first) / 2)

	avg = Snapshot{Hosts: make(map[string]HostSnapshot, len(sums)), Timestamp: mid}
	for name, sum := range sums {
		h := sum.Div(float64(counts[name]))
		h.Timestamp = mid
		avg.Hosts[name] = h
	}
	return avg, true
}
