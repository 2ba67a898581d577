package metrics

import (
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
)

// Sample is one labeled series in a Snapshot.
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	// Count and Sum are set for histograms; Value is then the mean.
	Count uint64  `json:"count,omitempty"`
	Sum   float64 `json:"sum,omitempty"`
}

// Family is one metric in a Snapshot.
type Family struct {
	Help    string   `json:"help"`
	Type    string   `json:"type"`
	Samples []Sample `json:"samples"`
}

// Snapshot maps metric names to their current values. Runtime and
// process metrics are left out.
type Snapshot map[string]Family

// Snapshot gathers the collector's own metrics.
func (c *Collector) Snapshot() (Snapshot, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}

	out := make(Snapshot)
	for _, mf := range families {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") {
			continue
		}
		fam := Family{
			Help: mf.GetHelp(),
			Type: strings.ToLower(mf.GetType().String()),
		}
		for _, m := range mf.GetMetric() {
			fam.Samples = append(fam.Samples, sample(mf.GetType(), m))
		}
		out[name] = fam
	}
	return out, nil
}

func sample(t dto.MetricType, m *dto.Metric) Sample {
	s := Sample{}
	if len(m.GetLabel()) > 0 {
		s.Labels = make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			s.Labels[lp.GetName()] = lp.GetValue()
		}
	}

	switch t {
	case dto.MetricType_COUNTER:
		s.Value = m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		s.Count = h.GetSampleCount()
		s.Sum = h.GetSampleSum()
		if s.Count > 0 {
			s.Value = s.Sum / float64(s.Count)
		}
	default:
		s.Value = m.GetUntyped().GetValue()
	}
	return s
}
