package sample

// Sample describes the values a benchmark client reports for one run.
// Latencies and jitter are in nanoseconds, throughput in GB/s.
type Sample struct {
	Ops         uint64  `json:"ops"`
	Latency     uint64  `json:"latency"`
	Jitter      uint64  `json:"jitter"`
	Throughput  float64 `json:"throughput"`
	SendLatency *uint64 `json:"send_latency,omitempty"`
	SendJitter  *uint64 `json:"send_jitter,omitempty"`
}

// HasSendBreakdown reports whether the send latency fields were reported.
func (s Sample) HasSendBreakdown() bool {
	return s.SendLatency != nil && s.SendJitter != nil
}

// Schema is the field layout of a client's output line.
type Schema struct {
	SendBreakdown bool
}

// Fields is the number of fields a line must carry
func (s Schema) Fields() int {
	if s.SendBreakdown {
		return 6
	}
	return 4
}
