package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func span(t *testing.T, d time.Duration) loadtest.Timespan {
	t.Helper()
	s, err := loadtest.NewTimespan(epoch, epoch.Add(d))
	require.NoError(t, err)
	return s
}

func execution(t *testing.T, load, rps int, cpu map[string]float64, server ...time.Duration) benchmark.ExecutionRecord {
	t.Helper()
	rec := benchmark.ExecutionRecord{TestCase: "fibonacci", Load: load, RequestPerSecond: rps}
	for _, d := range server {
		rec.Results = append(rec.Results, benchmark.ResultRecord{
			Load:                 load,
			RequestSpan:          span(t, 2*d),
			ServerProcessingSpan: span(t, d),
		})
	}
	if cpu != nil {
		snap := cluster.Snapshot{Hosts: make(map[string]cluster.HostSnapshot)}
		for host, usr := range cpu {
			snap.Hosts[host] = cluster.HostSnapshot{
				Host:   host,
				CPU:    cluster.CPU{User: usr},
				Memory: cluster.Memory{Used: 512 << 20},
			}
		}
		rec.ClusterStats = &snap
	}
	return rec
}

func TestAnalyze(t *testing.T) {
	// Arrange
	rec := benchmark.Record{
		TestCaseName: "fibonacci",
		TestExecutions: []benchmark.ExecutionRecord{
			execution(t, 9, 9, map[string]float64{"node1": 80, "node2": 40},
				100*time.Millisecond, 300*time.Millisecond, 200*time.Millisecond),
			execution(t, 8, 19, nil),
		},
	}

	// Act
	rows := Analyze(rec)

	// Assert
	require.Len(t, rows, 2)
	assert.Equal(t, 9, rows[0].Load)
	assert.Equal(t, 3, rows[0].Requests)
	assert.Equal(t, 200*time.Millisecond, rows[0].Avg)
	assert.Equal(t, 100*time.Millisecond, rows[0].Min)
	assert.Equal(t, 300*time.Millisecond, rows[0].Max)
	assert.Equal(t, 80.0, rows[0].CPU["node1"])
	assert.Equal(t, float64(512<<20), rows[0].RAM["node2"])

	assert.Zero(t, rows[1].Requests)
	assert.Zero(t, rows[1].Avg)
	assert.Empty(t, rows[1].CPU)
}

func TestCompare(t *testing.T) {
	baseline := benchmark.Record{TestExecutions: []benchmark.ExecutionRecord{
		execution(t, 9, 9, map[string]float64{"10.0.0.6": 70}),
		execution(t, 8, 19, map[string]float64{"10.0.0.6": 60}),
	}}
	tuned := benchmark.Record{TestExecutions: []benchmark.ExecutionRecord{
		execution(t, 9, 12, map[string]float64{"10.0.1.6": 50}),
	}}
	aliases := map[string]string{"10.0.0.6": "app", "10.0.1.6": "app"}

	t.Run("named", func(t *testing.T) {
		cmp := Compare([]benchmark.Record{baseline, tuned}, []string{"baseline", "tuned"}, 9, aliases)

		assert.Equal(t, []string{"app"}, cmp.Hosts)
		assert.Equal(t, Cell{CPU: 70, RAM: 512 << 20, RPS: 9}, cmp.Cells["app"]["baseline"])
		assert.Equal(t, Cell{CPU: 50, RAM: 512 << 20, RPS: 12}, cmp.Cells["app"]["tuned"])
	})

	t.Run("default names and no aliases", func(t *testing.T) {
		cmp := Compare([]benchmark.Record{baseline, tuned}, []string{"only-one"}, 9, nil)

		assert.Equal(t, []string{"benchmark_1", "benchmark_2"}, cmp.Names)
		assert.Equal(t, []string{"10.0.0.6", "10.0.1.6"}, cmp.Hosts)
	})

	t.Run("load not measured", func(t *testing.T) {
		cmp := Compare([]benchmark.Record{baseline}, nil, 3, nil)
		assert.Empty(t, cmp.Hosts)
	})
}

func TestWriteLoads(t *testing.T) {
	rows := Analyze(benchmark.Record{TestExecutions: []benchmark.ExecutionRecord{
		execution(t, 9, 9, map[string]float64{"node1": 80}, 250*time.Millisecond),
	}})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteLoads(&buf, FormatTable, rows))
		out := buf.String()
		assert.Contains(t, out, "NODE1 CPU %")
		assert.Contains(t, out, "0.2500")
		assert.Contains(t, out, "512.0")
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteLoads(&buf, FormatCSV, rows))
		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []string{"9", "9", "1", "0", "0.2500", "0.2500", "0.2500", "80.0", "512.0"}, records[1])
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteLoads(&buf, FormatJSON, rows))
		var back []LoadRow
		require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
		assert.Equal(t, rows, back)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.ErrorIs(t, WriteLoads(&bytes.Buffer{}, "pdf", rows), ErrUnknownFormat)
	})
}

func TestWriteComparison(t *testing.T) {
	cmp := Comparison{
		Load:  9,
		Names: []string{"a", "b"},
		Hosts: []string{"app"},
		Cells: map[string]map[string]Cell{"app": {"a": {CPU: 10, RAM: 1 << 20, RPS: 4}}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteComparison(&buf, FormatCSV, cmp))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{"Host", "a RPS", "a CPU %", "a RAM MiB", "b RPS", "b CPU %", "b RAM MiB"}, records[0])
	assert.Equal(t, []string{"app", "4", "10.0", "1.0", "-", "-", "-"}, records[1])
}
