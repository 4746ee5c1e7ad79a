package archive

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cloud-bulldozer/go-commons/indexers"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	result "github.com/cloud-bulldozer/pmem-netperf/pkg/results"
)

const (
	ltcyMetric = "ns"
	tputMetric = "GB/s"
)

// Doc struct of the JSON document to be indexed
type Doc struct {
	UUID        string    `json:"uuid"`
	Timestamp   time.Time `json:"timestamp"`
	Benchmark   string    `json:"benchmark"`
	MessageSize int       `json:"messageSize"`
	Threads     int       `json:"threads"`
	Duration    int       `json:"duration,omitempty"`
	Samples     int       `json:"samples,omitempty"`
	Ops         uint64    `json:"ops"`
	Latency     uint64    `json:"latency"`
	Jitter      uint64    `json:"jitter"`
	SendLatency *uint64   `json:"sendLatency,omitempty"`
	SendJitter  *uint64   `json:"sendJitter,omitempty"`
	Throughput  float64   `json:"throughput"`
	TputMetric  string    `json:"tputMetric"`
	LtcyMetric  string    `json:"ltcyMetric"`
	ServerHost  string    `json:"serverHost,omitempty"`
	ClientHost  string    `json:"clientHost,omitempty"`
	Pmem        *bool     `json:"pmem,omitempty"`
}

// Connect returns a client connected to the desired OpenSearch instance.
func Connect(url, index string, skip bool) (*indexers.Indexer, error) {
	var err error
	var indexer *indexers.Indexer
	indexerConfig := indexers.IndexerConfig{
		Type:               "opensearch",
		Servers:            []string{url},
		Index:              index,
		InsecureSkipVerify: skip,
	}
	logging.Infof("📁 Creating indexer: %s", indexerConfig.Type)
	indexer, err = indexers.NewIndexer(indexerConfig)
	if err != nil {
		logging.Errorf("%v indexer: %v", indexerConfig.Type, err.Error())
		return nil, fmt.Errorf("failure while connecting to Opensearch")
	}
	logging.Infof("Connected to : %s ", url)
	return indexer, nil
}

// BuildDocs returns one document per stored record, or an error when there is nothing to index.
// Run metadata comes from cfg; a zero Config leaves it out of the documents.
func BuildDocs(doc result.Document, cfg config.Config, uuid string) ([]interface{}, error) {
	now := time.Now().UTC()
	points := doc.Points()
	if len(points) < 1 {
		return nil, fmt.Errorf("no result documents")
	}
	variants := cfg.VariantTable()
	docs := make([]interface{}, 0, len(points))
	for _, p := range points {
		s, _ := doc.Get(p)
		d := Doc{
			UUID:        uuid,
			Timestamp:   now,
			Benchmark:   p.Benchmark,
			MessageSize: p.MessageSize,
			Threads:     p.Threads,
			Duration:    cfg.Duration,
			Samples:     cfg.Samples,
			Ops:         s.Ops,
			Latency:     s.Latency,
			Jitter:      s.Jitter,
			SendLatency: s.SendLatency,
			SendJitter:  s.SendJitter,
			Throughput:  s.Throughput,
			TputMetric:  tputMetric,
			LtcyMetric:  ltcyMetric,
			ServerHost:  cfg.Server.Host,
			ClientHost:  cfg.Client.Host,
		}
		if v, ok := variants[p.Benchmark]; ok {
			pmem := v.Pmem
			d.Pmem = &pmem
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Index pushes the documents to OpenSearch.
func Index(url, index string, docs []interface{}) error {
	client, err := Connect(url, index, true)
	if err != nil {
		return err
	}
	logging.Infof("Indexing [%d] documents in %s", len(docs), index)
	resp, err := (*client).Index(docs, indexers.IndexingOpts{})
	if err != nil {
		return err
	}
	logging.Info(resp)
	return nil
}

// WriteJSONResult writes the documents as JSON to w
func WriteJSONResult(w io.Writer, docs []interface{}) error {
	p, err := json.MarshalIndent(docs, " ", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(p))
	return err
}

func optional(v *uint64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(*v, 10)
}

// WriteCSV writes one row per stored record
func WriteCSV(w io.Writer, doc result.Document) error {
	archive := csv.NewWriter(w)
	header := []string{
		"Message Size",
		"Benchmark",
		"Threads",
		"Ops",
		"Avg Latency",
		"Avg Jitter",
		"Send Latency",
		"Send Jitter",
		"Latency Metric",
		"Throughput",
		"Throughput Metric",
	}
	if err := archive.Write(header); err != nil {
		return fmt.Errorf("failed to write result archive to file")
	}
	for _, p := range doc.Points() {
		s, _ := doc.Get(p)
		row := []string{
			strconv.Itoa(p.MessageSize),
			p.Benchmark,
			strconv.Itoa(p.Threads),
			strconv.FormatUint(s.Ops, 10),
			strconv.FormatUint(s.Latency, 10),
			strconv.FormatUint(s.Jitter, 10),
			optional(s.SendLatency),
			optional(s.SendJitter),
			ltcyMetric,
			fmt.Sprintf("%f", s.Throughput),
			tputMetric,
		}
		if err := archive.Write(row); err != nil {
			return fmt.Errorf("failed to write archive to file")
		}
	}
	archive.Flush()
	return archive.Error()
}

// WriteCSVResult will write the result document to the local filesystem.
// An empty path picks result-<unix time>.csv.
func WriteCSVResult(doc result.Document, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("result-%d.csv", time.Now().Unix())
	}
	fp, err := os.Create(path)
	if err != nil {
		return path, fmt.Errorf("failed to open archive file")
	}
	defer fp.Close()
	if err := WriteCSV(fp, doc); err != nil {
		return path, err
	}
	return path, nil
}
