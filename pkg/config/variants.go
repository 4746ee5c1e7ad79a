package config

// Variant describes how one benchmark binary is driven.
type Variant struct {
	Name string `yaml:"name"`
	// Executable overrides <buildPath>/<name>.
	Executable string `yaml:"executable,omitempty"`
	// Pmem variants write into persistent memory on the server and take --pmem.
	Pmem bool `yaml:"pmem,omitempty"`
	// SendBreakdown variants report send latency and jitter after throughput.
	SendBreakdown bool `yaml:"sendBreakdown,omitempty"`
}

var builtinVariants = []Variant{
	{Name: "wrbenchmark", Pmem: true},
	{Name: "wsbenchmark", Pmem: true, SendBreakdown: true},
	{Name: "wibenchmark", Pmem: true, SendBreakdown: true},
	{Name: "wbenchmark"},
	{Name: "rbenchmark"},
}

// VariantTable returns the built-in variants with the configured ones layered on top.
func (c Config) VariantTable() map[string]Variant {
	table := make(map[string]Variant, len(builtinVariants)+len(c.Variants))
	for _, v := range builtinVariants {
		table[v.Name] = v
	}
	for _, v := range c.Variants {
		table[v.Name] = v
	}
	return table
}
