// internal/cluster/procfs.go
package cluster

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// cpuTimes holds the aggregate jiffy counters from the first line of
// /proc/stat, in kernel order
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal, guest, guestNice uint64
}

// parseFree reads the Mem: row of `free -b`, mapping columns by header name
func parseFree(out string) (Memory, error) {
	var header []string
	var values []string

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if header == nil && fields[0] == "total" {
			header = fields
			continue
		}
		if fields[0] == "Mem:" {
			values = fields[1:]
			break
		}
	}
	if header == nil || values == nil {
		return Memory{}, fmt.Errorf("unexpected free output: %q", out)
	}
	if len(values) < len(header) {
		return Memory{}, fmt.Errorf("free: %d columns, %d values", len(header), len(values))
	}

	var mem Memory
	for i, name := range header {
		v, err := strconv.ParseFloat(values[i], 64)
		if err != nil {
			return Memory{}, fmt.Errorf("free column %s: %w", name, err)
		}
		switch name {
		case "total":
			mem.Total = v
		case "used":
			mem.Used = v
		case "free":
			mem.Free = v
		case "shared":
			mem.Shared = v
		case "buff/cache":
			mem.BuffCache = v
		case "buffers", "cache":
			mem.BuffCache += v
		case "available":
			mem.Available = v
		}
	}
	return mem, nil
}

// parseProcStat reads the aggregate cpu line of /proc/stat
func parseProcStat(out string) (cpuTimes, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		// older kernels report fewer columns; missing ones stay zero
		vals := make([]uint64, 10)
		for i, f := range fields[1:] {
			if i >= len(vals) {
				break
			}
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("proc stat column %d: %w", i+1, err)
			}
			vals[i] = v
		}
		return cpuTimes{
			user: vals[0], nice: vals[1], system: vals[2], idle: vals[3],
			iowait: vals[4], irq: vals[5], softirq: vals[6], steal: vals[7],
			guest: vals[8], guestNice: vals[9],
		}, nil
	}
	return cpuTimes{}, fmt.Errorf("no cpu line in /proc/stat output")
}

// cpuPercent converts the counter delta between two readings into percent
// of elapsed CPU time. Guest time is already counted in user and nice, so it
// is subtracted there the way mpstat does.
func cpuPercent(prev, cur cpuTimes) CPU {
	d := func(a, b uint64) float64 {
		if b < a {
			return 0
		}
		return float64(b - a)
	}

	guest := d(prev.guest, cur.guest)
	guestNice := d(prev.guestNice, cur.guestNice)
	user := d(prev.user, cur.user) - guest
	nice := d(prev.nice, cur.nice) - guestNice
	if user < 0 {
		user = 0
	}
	if nice < 0 {
		nice = 0
	}

	c := CPU{
		User:      user,
		Nice:      nice,
		System:    d(prev.system, cur.system),
		IOWait:    d(prev.iowait, cur.iowait),
		IRQ:       d(prev.irq, cur.irq),
		SoftIRQ:   d(prev.softirq, cur.softirq),
		Steal:     d(prev.steal, cur.steal),
		Guest:     guest,
		GuestNice: guestNice,
		Idle:      d(prev.idle, cur.idle),
	}

	total := c.User + c.Nice + c.System + c.IOWait + c.IRQ + c.SoftIRQ +
		c.Steal + c.Guest + c.GuestNice + c.Idle
	if total == 0 {
		return CPU{Idle: 100}
	}
	return c.Div(total / 100)
}
