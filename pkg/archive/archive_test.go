package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	result "github.com/cloud-bulldozer/pmem-netperf/pkg/results"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
)

func testDoc(t *testing.T) result.Document {
	t.Helper()
	doc := result.Document{}
	ws, err := sample.Parse("1000000;500;20;12.5;480;18", sample.Schema{SendBreakdown: true})
	if err != nil {
		t.Fatal(err)
	}
	wr, err := sample.Parse("2000000;250;10;25.0", sample.Schema{})
	if err != nil {
		t.Fatal(err)
	}
	doc.Set(config.Point{MessageSize: 1024, Benchmark: "wsbenchmark", Threads: 2}, ws)
	doc.Set(config.Point{MessageSize: 256, Benchmark: "wrbenchmark", Threads: 1}, wr)
	return doc
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Client.Host = "pmem-4"
	cfg.Server = config.Host{Host: "pmem-3", Address: "10.10.0.123"}
	return cfg
}

func TestBuildDocs(t *testing.T) {
	docs, err := BuildDocs(testDoc(t), testConfig(), "a-uuid")
	if err != nil {
		t.Fatalf("BuildDocs failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	first := docs[0].(Doc)
	if first.MessageSize != 256 || first.Benchmark != "wrbenchmark" || first.Pmem == nil || !*first.Pmem {
		t.Errorf("unexpected first doc %+v", first)
	}
	second := docs[1].(Doc)
	if second.SendLatency == nil || *second.SendLatency != 480 {
		t.Errorf("send latency not carried over: %+v", second)
	}
	if second.UUID != "a-uuid" || second.ServerHost != "pmem-3" {
		t.Errorf("unexpected metadata %+v", second)
	}
}

func TestBuildDocsEmpty(t *testing.T) {
	if _, err := BuildDocs(result.Document{}, testConfig(), "a-uuid"); err == nil {
		t.Fatal("expected error for an empty document")
	}
}

func TestWriteJSONResult(t *testing.T) {
	docs, err := BuildDocs(testDoc(t), testConfig(), "a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteJSONResult(&buf, docs); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := decoded[0]["sendLatency"]; ok {
		t.Error("sendLatency should be omitted for four field variants")
	}
}

func TestBuildDocsWithoutConfig(t *testing.T) {
	doc := testDoc(t)
	custom, err := sample.Parse("10;20;30;1.5", sample.Schema{})
	if err != nil {
		t.Fatal(err)
	}
	doc.Set(config.Point{MessageSize: 4096, Benchmark: "mybench", Threads: 1}, custom)
	docs, err := BuildDocs(doc, config.Config{}, "a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteJSONResult(&buf, docs); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(decoded))
	}
	for _, d := range decoded {
		for _, k := range []string{"duration", "samples", "serverHost", "clientHost"} {
			if _, ok := d[k]; ok {
				t.Errorf("%s should be left out without a configuration: %v", k, d)
			}
		}
	}
	if decoded[0]["pmem"] != true {
		t.Errorf("built-in pmem variant lost its flag: %v", decoded[0])
	}
	if _, ok := decoded[2]["pmem"]; ok {
		t.Errorf("pmem reported for a variant that is not configured: %v", decoded[2])
	}
}

func TestWriteCSVResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	got, err := WriteCSVResult(testDoc(t), path)
	if err != nil {
		t.Fatalf("WriteCSVResult failed: %v", err)
	}
	if got != path {
		t.Errorf("path = %s, want %s", got, path)
	}
	fp, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fp.Close()
	rows, err := csv.NewReader(fp).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "256" || rows[2][6] != "480" || rows[1][6] != "" {
		t.Errorf("unexpected rows %v", rows)
	}
}
