package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Transports we know how to drive remote hosts with
const (
	TransportSSH  = "ssh"
	TransportExec = "exec"
)

// Host describes one side of a benchmark pair
type Host struct {
	Host    string `yaml:"host"`
	Address string `yaml:"address,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// SSH holds the options of the built-in ssh transport
type SSH struct {
	User     string        `yaml:"user,omitempty"`
	Port     uint          `yaml:"port,omitempty"`
	Key      string        `yaml:"key,omitempty"`
	Insecure bool          `yaml:"insecure,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// Config describes a benchmark sweep
type Config struct {
	Client        Host          `yaml:"client"`
	Server        Host          `yaml:"server"`
	BuildPath     string        `yaml:"buildPath"`
	PmemPath      string        `yaml:"pmemPath,omitempty"`
	Duration      int           `yaml:"duration,omitempty"`
	Settle        time.Duration `yaml:"settle,omitempty"`
	ClientTimeout time.Duration `yaml:"clientTimeout,omitempty"`
	Samples       int           `yaml:"samples,omitempty"`
	Results       string        `yaml:"results,omitempty"`
	SkipExisting  bool          `yaml:"skipExisting,omitempty"`
	Transport     string        `yaml:"transport,omitempty"`
	RemoteExec    string        `yaml:"remoteExec,omitempty"`
	SSH           SSH           `yaml:"ssh,omitempty"`
	MessageSizes  []int         `yaml:"messageSizes"`
	Benchmarks    []string      `yaml:"benchmarks"`
	Threads       []int         `yaml:"threads"`
	Variants      []Variant     `yaml:"variants,omitempty"`
}

// Point is one combination of message size, benchmark and thread count.
type Point struct {
	MessageSize int
	Benchmark   string
	Threads     int
}

// String renders the coordinates for log lines
func (p Point) String() string {
	return fmt.Sprintf("size=%d benchmark=%s threads=%d", p.MessageSize, p.Benchmark, p.Threads)
}

// Fields returns the coordinates as structured log fields
func (p Point) Fields() log.Fields {
	return log.Fields{
		"messageSize": p.MessageSize,
		"benchmark":   p.Benchmark,
		"threads":     p.Threads,
	}
}

// Keys returns the string keys the point is stored under.
func (p Point) Keys() (size, benchmark, threads string) {
	return strconv.Itoa(p.MessageSize), p.Benchmark, strconv.Itoa(p.Threads)
}

// Default returns the configuration used for any field the file leaves out.
func Default() Config {
	return Config{
		Duration:   30,
		Settle:     100 * time.Millisecond,
		Samples:    1,
		Results:    "results.json",
		Transport:  TransportSSH,
		RemoteExec: "ssh -tt -o BatchMode=yes",
		SSH: SSH{
			Port:    22,
			Key:     "~/.ssh/id_rsa",
			Timeout: 20 * time.Second,
		},
	}
}

// Points enumerates the sweep: message size outer, benchmark middle, threads inner.
func (c Config) Points() []Point {
	points := make([]Point, 0, len(c.MessageSizes)*len(c.Benchmarks)*len(c.Threads))
	for _, size := range c.MessageSizes {
		for _, bench := range c.Benchmarks {
			for _, threads := range c.Threads {
				points = append(points, Point{MessageSize: size, Benchmark: bench, Threads: threads})
			}
		}
	}
	return points
}

// ClientWait is the hard bound on a single client run.
func (c Config) ClientWait() time.Duration {
	if c.ClientTimeout > 0 {
		return c.ClientTimeout
	}
	return time.Duration(c.Duration)*time.Second + 30*time.Second
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	n := c
	n.MessageSizes = slices.Clone(c.MessageSizes)
	n.Benchmarks = slices.Clone(c.Benchmarks)
	n.Threads = slices.Clone(c.Threads)
	n.Variants = slices.Clone(c.Variants)
	return n
}

// WithDimensions overrides the sweep dimensions that are not empty.
func (c Config) WithDimensions(sizes []int, benchmarks []string, threads []int) Config {
	n := c.Clone()
	if len(sizes) > 0 {
		n.MessageSizes = slices.Clone(sizes)
	}
	if len(benchmarks) > 0 {
		n.Benchmarks = slices.Clone(benchmarks)
	}
	if len(threads) > 0 {
		n.Threads = slices.Clone(threads)
	}
	return n
}

// Validate reports the first problem with the configuration
func (c Config) Validate() error {
	_, err := validConfig(c)
	return err
}

func validConfig(cfg Config) (bool, error) {
	if cfg.Client.Host == "" {
		return false, fmt.Errorf("client host must be set")
	}
	if cfg.Server.Host == "" {
		return false, fmt.Errorf("server host must be set")
	}
	if cfg.Server.Address == "" {
		return false, fmt.Errorf("server address must be set")
	}
	if cfg.BuildPath == "" {
		return false, fmt.Errorf("buildPath must be set")
	}
	if cfg.Duration < 1 {
		return false, fmt.Errorf("duration must be > 0")
	}
	if cfg.Samples < 1 {
		return false, fmt.Errorf("samples must be > 0")
	}
	if cfg.Settle < 0 {
		return false, fmt.Errorf("settle must be >= 0")
	}
	if cfg.Results == "" {
		return false, fmt.Errorf("results file must be set")
	}
	if cfg.Transport != TransportSSH && cfg.Transport != TransportExec {
		return false, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if len(cfg.MessageSizes) == 0 || len(cfg.Benchmarks) == 0 || len(cfg.Threads) == 0 {
		return false, fmt.Errorf("messageSizes, benchmarks and threads must not be empty")
	}
	for _, size := range cfg.MessageSizes {
		if size < 1 {
			return false, fmt.Errorf("messagesize must be > 0")
		}
	}
	for _, threads := range cfg.Threads {
		if threads < 1 {
			return false, fmt.Errorf("threads must be > 0")
		}
	}
	for _, v := range cfg.Variants {
		if v.Name == "" {
			return false, fmt.Errorf("variant without a name")
		}
	}
	table := cfg.VariantTable()
	for _, bench := range cfg.Benchmarks {
		v, ok := table[bench]
		if !ok {
			return false, fmt.Errorf("unknown benchmark %q", bench)
		}
		if v.Pmem && cfg.PmemPath == "" {
			return false, fmt.Errorf("benchmark %q writes to persistent memory, pmemPath must be set", bench)
		}
	}
	return true, nil
}

// ParseConf will read in the sweep configuration file
// Returns Config struct
func ParseConf(fn string) (Config, error) {
	log.Infof("📒 Reading %s file. ", fn)
	cfg := Default()
	buf, err := os.ReadFile(fn)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("in file %q: %v", fn, err)
	}
	if ok, err := validConfig(cfg); !ok {
		return cfg, fmt.Errorf("in file %q: %w", fn, err)
	}
	return cfg, nil
}

// Show Display the sweep config
func Show(c Config) {
	log.Infof("🗒️  Sweeping %d points (%d sizes x %d benchmarks x %d thread counts), %ds per run, %d sample(s)",
		len(c.MessageSizes)*len(c.Benchmarks)*len(c.Threads), len(c.MessageSizes), len(c.Benchmarks), len(c.Threads), c.Duration, c.Samples)
	log.Infof("🖥️  Server %s (%s) ⇄ client %s via %s", c.Server.Host, c.Server.Address, c.Client.Host, c.Transport)
}
