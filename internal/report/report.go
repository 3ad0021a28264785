// internal/report/report.go
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/olekukonko/tablewriter"
)

// Export formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// ErrUnknownFormat is returned for an unsupported output format
var ErrUnknownFormat = errors.New("report: unknown format")

// LoadRow summarizes one execution of a stored benchmark
type LoadRow struct {
	Load     int                `json:"load"`
	RPS      int                `json:"rps"`
	Requests int                `json:"requests"`
	Errors   int                `json:"errors"`
	Avg      time.Duration      `json:"avg_server_processing_time"`
	Min      time.Duration      `json:"min_server_processing_time"`
	Max      time.Duration      `json:"max_server_processing_time"`
	CPU      map[string]float64 `json:"avg_cpu_usr"`  // per host, percent
	RAM      map[string]float64 `json:"avg_ram_used"` // per host, bytes
}

// Analyze computes per-execution server processing times and the averaged
// host usage recorded alongside them
func Analyze(rec benchmark.Record) []LoadRow {
	rows := make([]LoadRow, 0, len(rec.TestExecutions))
	for _, exec := range rec.TestExecutions {
		row := LoadRow{
			Load:     exec.Load,
			RPS:      exec.RequestPerSecond,
			Requests: len(exec.Results),
			Errors:   len(exec.Errors),
			CPU:      make(map[string]float64),
			RAM:      make(map[string]float64),
		}

		times := exec.ServerProcessingTimes()
		if len(times) > 0 {
			row.Min, row.Max = times[0], times[0]
			var total time.Duration
			for _, d := range times {
				total += d
				if d < row.Min {
					row.Min = d
				}
				if d > row.Max {
					row.Max = d
				}
			}
			row.Avg = total / time.Duration(len(times))
		}

		if exec.ClusterStats != nil {
			for host, snap := range exec.ClusterStats.Hosts {
				row.CPU[host] = snap.CPU.User
				row.RAM[host] = snap.Memory.Used
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Cell is one host's usage in one benchmark
type Cell struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
	RPS int     `json:"rps"`
}

// Comparison lines up host usage at one load across benchmarks
type Comparison struct {
	Load  int                        `json:"load"`
	Names []string                   `json:"names"`
	Hosts []string                   `json:"hosts"`
	Cells map[string]map[string]Cell `json:"cells"` // host -> name -> cell
}

// Compare collects host usage at load from each record. Hosts are renamed
// through aliases so the same role lines up across clusters. Names label
// the records; missing or mismatched names become benchmark_1, benchmark_2...
func Compare(records []benchmark.Record, names []string, load int, aliases map[string]string) Comparison {
	if len(names) != len(records) {
		names = make([]string, len(records))
		for i := range records {
			names[i] = fmt.Sprintf("benchmark_%d", i+1)
		}
	}

	cmp := Comparison{
		Load:  load,
		Names: names,
		Cells: make(map[string]map[string]Cell),
	}
	for i, rec := range records {
		for _, row := range Analyze(rec) {
			if row.Load != load {
				continue
			}
			for host, cpu := range row.CPU {
				alias := host
				if a, ok := aliases[host]; ok {
					alias = a
				}
				if cmp.Cells[alias] == nil {
					cmp.Cells[alias] = make(map[string]Cell)
				}
				cmp.Cells[alias][names[i]] = Cell{CPU: cpu, RAM: row.RAM[host], RPS: row.RPS}
			}
		}
	}

	for host := range cmp.Cells {
		cmp.Hosts = append(cmp.Hosts, host)
	}
	sort.Strings(cmp.Hosts)
	return cmp
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 4, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func mebibytes(v float64) string {
	return strconv.FormatFloat(v/(1<<20), 'f', 1, 64)
}

func sortedHosts(rows []LoadRow) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, row := range rows {
		for host := range row.CPU {
			if !seen[host] {
				seen[host] = true
				hosts = append(hosts, host)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

func loadTable(rows []LoadRow) ([]string, [][]string) {
	hosts := sortedHosts(rows)
	header := []string{"Load", "RPS", "Requests", "Errors", "Avg (s)", "Min (s)", "Max (s)"}
	for _, host := range hosts {
		header = append(header, host+" CPU %", host+" RAM MiB")
	}

	data := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := []string{
			strconv.Itoa(row.Load),
			strconv.Itoa(row.RPS),
			strconv.Itoa(row.Requests),
			strconv.Itoa(row.Errors),
			seconds(row.Avg),
			seconds(row.Min),
			seconds(row.Max),
		}
		for _, host := range hosts {
			cpu, ok := row.CPU[host]
			if !ok {
				line = append(line, "-", "-")
				continue
			}
			line = append(line, percent(cpu), mebibytes(row.RAM[host]))
		}
		data = append(data, line)
	}
	return header, data
}

func comparisonTable(cmp Comparison) ([]string, [][]string) {
	header := []string{"Host"}
	for _, name := range cmp.Names {
		header = append(header, name+" RPS", name+" CPU %", name+" RAM MiB")
	}

	data := make([][]string, 0, len(cmp.Hosts))
	for _, host := range cmp.Hosts {
		line := []string{host}
		for _, name := range cmp.Names {
			cell, ok := cmp.Cells[host][name]
			if !ok {
				line = append(line, "-", "-", "-")
				continue
			}
			line = append(line, strconv.Itoa(cell.RPS), percent(cell.CPU), mebibytes(cell.RAM))
		}
		data = append(data, line)
	}
	return header, data
}

// WriteLoads renders rows in the given format
func WriteLoads(w io.Writer, format string, rows []LoadRow) error {
	if format == FormatJSON {
		return writeJSON(w, rows)
	}
	header, data := loadTable(rows)
	return write(w, format, header, data)
}

// WriteComparison renders a comparison in the given format
func WriteComparison(w io.Writer, format string, cmp Comparison) error {
	if format == FormatJSON {
		return writeJSON(w, cmp)
	}
	header, data := comparisonTable(cmp)
	return write(w, format, header, data)
}

func write(w io.Writer, format string, header []string, data [][]string) error {
	switch format {
	case FormatTable, "":
		table := tablewriter.NewWriter(w)
		table.SetHeader(header)
		table.AppendBulk(data)
		table.Render()
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(data); err != nil {
			return err
		}
		return cw.Error()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
