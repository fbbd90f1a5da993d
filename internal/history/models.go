package history

import "time"

// Run is one recorded benchmark.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	Regions    []string  `json:"regions" yaml:"regions"`
	Candidates int       `json:"candidates" yaml:"candidates"`
	Selected   string    `json:"selected,omitempty" yaml:"selected,omitempty"`
}

// Probe is the measured throughput of one mirror within a run.
type Probe struct {
	RunID      string  `json:"run_id" yaml:"run_id"`
	Mirror     string  `json:"mirror" yaml:"mirror"`
	Throughput float64 `json:"throughput_bytes_per_sec" yaml:"throughput_bytes_per_sec"`
	Succeeded  bool    `json:"succeeded" yaml:"succeeded"`
	Rank       int     `json:"rank" yaml:"rank"`
}

// MirrorStat aggregates all probes of one mirror.
type MirrorStat struct {
	Mirror         string    `json:"mirror" yaml:"mirror"`
	Probes         int       `json:"probes" yaml:"probes"`
	AvgThroughput  float64   `json:"avg_throughput_bytes_per_sec" yaml:"avg_throughput_bytes_per_sec"`
	BestThroughput float64   `json:"best_throughput_bytes_per_sec" yaml:"best_throughput_bytes_per_sec"`
	SuccessRatio   float64   `json:"success_ratio" yaml:"success_ratio"`
	LastSeen       time.Time `json:"last_seen" yaml:"last_seen"`
}
