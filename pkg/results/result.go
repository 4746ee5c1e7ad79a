package result

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Specify Language specific case wrapper as global variable
var caser = cases.Title(language.English)

// Data describes the outcome of one sweep point
type Data struct {
	config.Point
	Sample            sample.Sample
	Samples           int
	ThroughputSummary []float64
	LatencySummary    []float64
	StartTime         time.Time
	EndTime           time.Time
	Err               error
}

// ScenarioResults collects every point a sweep touched
type ScenarioResults struct {
	UUID    string
	Results []Data
	Failed  []Data
	Skipped []config.Point
}

// Method to init common table structure.
func initTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

func optional(v *uint64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(*v, 10)
}

// ShowResults will display the points measured in this run
func ShowResults(s ScenarioResults) {
	renderResults(os.Stdout, s)
}

func renderResults(w io.Writer, s ScenarioResults) {
	if len(s.Results) == 0 {
		logging.Info("No results to show")
		return
	}
	logging.Debug("Rendering sweep results")
	table := initTable(w, []string{"Result Type", "Benchmark", "Message Size", "Threads", "Samples", "Ops", "Avg Latency (ns)", "Avg Jitter (ns)", "Send Latency (ns)", "Throughput (GB/s)", "95% Confidence Interval"})
	for _, r := range s.Results {
		var lo, hi float64
		if r.Samples > 1 {
			_, lo, hi = sample.ConfidenceInterval(r.ThroughputSummary, 0.95)
		}
		table.Append([]string{
			fmt.Sprintf("📊 %s Results", caser.String(strings.ToLower(r.Benchmark))),
			r.Benchmark,
			strconv.Itoa(r.MessageSize),
			strconv.Itoa(r.Threads),
			strconv.Itoa(r.Samples),
			strconv.FormatUint(r.Sample.Ops, 10),
			strconv.FormatUint(r.Sample.Latency, 10),
			strconv.FormatUint(r.Sample.Jitter, 10),
			optional(r.Sample.SendLatency),
			fmt.Sprintf("%f", r.Sample.Throughput),
			fmt.Sprintf("%f-%f", lo, hi),
		})
	}
	table.Render()
}

// ShowFailures lists the points that did not produce a record
func ShowFailures(s ScenarioResults) {
	renderFailures(os.Stdout, s)
}

func renderFailures(w io.Writer, s ScenarioResults) {
	if len(s.Failed) == 0 {
		return
	}
	table := initTable(w, []string{"Result Type", "Benchmark", "Message Size", "Threads", "Error"})
	for _, r := range s.Failed {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		table.Append([]string{"😥 Failed", r.Benchmark, strconv.Itoa(r.MessageSize), strconv.Itoa(r.Threads), fmt.Sprintf("%.120s", msg)})
	}
	table.Render()
}

// ShowDocument renders everything held in a result document
func ShowDocument(doc Document) {
	RenderDocument(os.Stdout, doc)
}

// RenderDocument writes the document as a table to w
func RenderDocument(w io.Writer, doc Document) {
	table := initTable(w, []string{"Message Size", "Benchmark", "Threads", "Ops", "Avg Latency (ns)", "Avg Jitter (ns)", "Send Latency (ns)", "Send Jitter (ns)", "Throughput (GB/s)"})
	for _, p := range doc.Points() {
		s, _ := doc.Get(p)
		table.Append([]string{
			strconv.Itoa(p.MessageSize),
			p.Benchmark,
			strconv.Itoa(p.Threads),
			strconv.FormatUint(s.Ops, 10),
			strconv.FormatUint(s.Latency, 10),
			strconv.FormatUint(s.Jitter, 10),
			optional(s.SendLatency),
			optional(s.SendJitter),
			fmt.Sprintf("%f", s.Throughput),
		})
	}
	table.Render()
}
