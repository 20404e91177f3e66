package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/metrics"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.EventsProcessed.WithLabelValues("deposit").Inc()
	m.EventFailures.WithLabelValues("trade", "transient").Add(2)
	m.LastBlock.Set(120)

	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("deposit")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.EventFailures.WithLabelValues("trade", "transient")), 1e-9)
	assert.InDelta(t, 120, testutil.ToFloat64(m.LastBlock), 1e-9)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "ff_margin_indexer_worker_events_processed_total")
	assert.Contains(t, names, "ff_margin_indexer_worker_last_committed_block")
}

func TestNew_RegisteringTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	assert.Panics(t, func() { metrics.New(reg) })
}
