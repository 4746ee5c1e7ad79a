package result

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
)

func record(t *testing.T, line string, breakdown bool) sample.Sample {
	t.Helper()
	s, err := sample.Parse(line, sample.Schema{SendBreakdown: breakdown})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "results.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("fresh store has %d records", s.Len())
	}
}

func TestMergeAndSaveUsesStringKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p := config.Point{MessageSize: 1024, Benchmark: "wsbenchmark", Threads: 4}
	if err := s.MergeAndSave(p, record(t, "1000000;500;20;12.5;480;18", true)); err != nil {
		t.Fatalf("MergeAndSave failed: %v", err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]map[string]map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		t.Fatalf("stored document is not the expected shape: %v", err)
	}
	leaf, ok := raw["1024"]["wsbenchmark"]["4"]
	if !ok {
		t.Fatalf("record not stored under string keys: %s", buf)
	}
	for _, k := range []string{"ops", "latency", "jitter", "throughput", "send_latency", "send_jitter"} {
		if _, ok := leaf[k]; !ok {
			t.Errorf("stored record is missing %q", k)
		}
	}
}

func TestMergeIsLocalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	a := config.Point{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 1}
	b := config.Point{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 2}
	if err := s.MergeAndSave(a, record(t, "1;2;3;4.0", false)); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeAndSave(b, record(t, "5;6;7;8.0", false)); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeAndSave(a, record(t, "9;10;11;12.0", false)); err != nil {
		t.Fatal(err)
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", doc.Len())
	}
	if got, _ := doc.Get(a); got.Ops != 9 {
		t.Errorf("rerun did not overwrite: %+v", got)
	}
	if got, _ := doc.Get(b); got.Ops != 5 {
		t.Errorf("rerun disturbed another point: %+v", got)
	}
}

func TestMergeAfterRestartIsSuperset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	before := []config.Point{
		{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 1},
		{MessageSize: 512, Benchmark: "wsbenchmark", Threads: 8},
	}
	for _, p := range before {
		if err := first.MergeAndSave(p, record(t, "1;2;3;4.0", false)); err != nil {
			t.Fatal(err)
		}
	}

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	pre := second.Document()
	added := config.Point{MessageSize: 65536, Benchmark: "wbenchmark", Threads: 12}
	if err := second.MergeAndSave(added, record(t, "5;6;7;8.0", false)); err != nil {
		t.Fatal(err)
	}
	post, err := second.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pre.Points() {
		want, _ := pre.Get(p)
		got, ok := post.Get(p)
		if !ok || got != want {
			t.Errorf("%s lost after merge", p)
		}
	}
	if !second.Has(added) {
		t.Error("merged point missing")
	}
	if post.Len() != pre.Len()+1 {
		t.Errorf("expected %d records, got %d", pre.Len()+1, post.Len())
	}
}

func TestMergePicksUpExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	a := config.Point{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 1}
	b := config.Point{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 2}
	if err := other.MergeAndSave(a, record(t, "1;2;3;4.0", false)); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeAndSave(b, record(t, "5;6;7;8.0", false)); err != nil {
		t.Fatal(err)
	}
	if !s.Has(a) || !s.Has(b) {
		t.Error("merge did not re-read the document written by another segment")
	}
}

func TestMergeKeepsForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	seed := `{"256": {"wrbenchmark": {"1": {"ops": 1, "latency": 2, "jitter": 3, "throughput": 4.0, "cpu_util": 87.5}}}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MergeAndSave(config.Point{MessageSize: 1024, Benchmark: "wrbenchmark", Threads: 1}, record(t, "5;6;7;8.0", false)); err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]map[string]map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		t.Fatal(err)
	}
	if got := raw["256"]["wrbenchmark"]["1"]["cpu_util"]; got != 87.5 {
		t.Errorf("untouched record lost cpu_util, got %v:\n%s", got, buf)
	}
	if _, ok := raw["1024"]["wrbenchmark"]["1"]; !ok {
		t.Errorf("merged record missing:\n%s", buf)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 records, got %d", s.Len())
	}
}

func TestCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestUnwritableDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "results.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = s.MergeAndSave(config.Point{MessageSize: 1, Benchmark: "x", Threads: 1}, sample.Sample{})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("failed save must not change the in-memory document")
	}
}

func TestPointsSortNumerically(t *testing.T) {
	doc := Document{}
	for _, size := range []int{65536, 256, 1024} {
		for _, threads := range []int{12, 2, 1} {
			doc.Set(config.Point{MessageSize: size, Benchmark: "wrbenchmark", Threads: threads}, sample.Sample{})
		}
	}
	points := doc.Points()
	if len(points) != 9 {
		t.Fatalf("got %d points", len(points))
	}
	if points[0].MessageSize != 256 || points[0].Threads != 1 || points[8].MessageSize != 65536 || points[8].Threads != 12 {
		t.Errorf("unexpected order %v", points)
	}
}

func TestRenderDocument(t *testing.T) {
	doc := Document{}
	doc.Set(config.Point{MessageSize: 256, Benchmark: "wsbenchmark", Threads: 1}, record(t, "1000000;500;20;12.5;480;18", true))
	var buf bytes.Buffer
	RenderDocument(&buf, doc)
	out := buf.String()
	for _, want := range []string{"WSBENCHMARK", "1000000", "480", "12.500000"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Errorf("table is missing %q:\n%s", want, out)
		}
	}
}
