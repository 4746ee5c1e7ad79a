package drivers

import (
	"fmt"
	"path"
	"strconv"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
)

// Driver knows how to launch one benchmark variant and read its output.
type Driver interface {
	Name() string
	Executable() string
	ServerArgs(p config.Point) []string
	ClientArgs(p config.Point) []string
	ParseResults(stdout []byte) (sample.Sample, error)
}

type rdmaBenchmark struct {
	variant    config.Variant
	testConfig config.Config
}

// NewDriver returns the Driver for a benchmark listed in the variant table.
// If the name is not recognized, it returns an error.
func NewDriver(name string, cfg config.Config) (Driver, error) {
	v, ok := cfg.VariantTable()[name]
	if !ok {
		return nil, fmt.Errorf("unknown benchmark: %s", name)
	}
	return &rdmaBenchmark{
		variant:    v,
		testConfig: cfg,
	}, nil
}

// NewDrivers builds a driver for every benchmark the sweep uses.
func NewDrivers(cfg config.Config) (map[string]Driver, error) {
	drivers := make(map[string]Driver, len(cfg.Benchmarks))
	for _, name := range cfg.Benchmarks {
		d, err := NewDriver(name, cfg)
		if err != nil {
			return nil, err
		}
		drivers[name] = d
	}
	return drivers, nil
}

func (r *rdmaBenchmark) Name() string {
	return r.variant.Name
}

// Executable is the variant's binary on the remote hosts
func (r *rdmaBenchmark) Executable() string {
	if r.variant.Executable != "" {
		return r.variant.Executable
	}
	return path.Join(r.testConfig.BuildPath, r.variant.Name)
}

// ServerArgs: -b bind -S size -c connections -v [-p port] [--pmem file]
func (r *rdmaBenchmark) ServerArgs(p config.Point) []string {
	args := []string{
		"-b", r.testConfig.Server.Address,
		"-S", strconv.Itoa(p.MessageSize),
		"-c", strconv.Itoa(p.Threads),
		"-v",
	}
	if r.testConfig.Server.Port > 0 {
		args = append(args, "-p", strconv.Itoa(r.testConfig.Server.Port))
	}
	if r.variant.Pmem {
		args = append(args, "--pmem", r.testConfig.PmemPath)
	}
	return args
}

// ClientArgs: -s server -S size -c connections -t seconds -v [-p port]
func (r *rdmaBenchmark) ClientArgs(p config.Point) []string {
	args := []string{
		"-s", r.testConfig.Server.Address,
		"-S", strconv.Itoa(p.MessageSize),
		"-c", strconv.Itoa(p.Threads),
		"-t", strconv.Itoa(r.testConfig.Duration),
		"-v",
	}
	if r.testConfig.Server.Port > 0 {
		args = append(args, "-p", strconv.Itoa(r.testConfig.Server.Port))
	}
	return args
}

// ParseResults accepts the combined output of a client run and decodes its
// last line with the variant's schema.
func (r *rdmaBenchmark) ParseResults(stdout []byte) (sample.Sample, error) {
	line := sample.LastLine(stdout)
	log.Debugf("%s reported: %s", r.variant.Name, line)
	return sample.Parse(line, sample.Schema{SendBreakdown: r.variant.SendBreakdown})
}
