package metrics

import (
	"testing"

	"github.com/itohio/goph/pkg/protocol"
	"github.com/itohio/goph/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stats protocol.Stats
}

func (f fakeSource) Stats() protocol.Stats { return f.stats }

func TestCollector(t *testing.T) {
	src := fakeSource{stats: protocol.Stats{
		PacketsSent:      12,
		SendFailures:     1,
		ReadingsBuffered: 5,
		Dropped:          2,
		ReplaysCompleted: 3,
		QueueLength:      4,
		Store:            store.Stats{Failures: 6, Fallbacks: 7, Reclaims: 8},
	}}

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(src)))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if mf.GetType().String() == "GAUGE" {
			got[mf.GetName()] = m.GetGauge().GetValue()
		} else {
			got[mf.GetName()] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, map[string]float64{
		"goph_packets_sent_total":      12,
		"goph_send_failures_total":     1,
		"goph_readings_buffered_total": 5,
		"goph_readings_dropped_total":  2,
		"goph_replays_completed_total": 3,
		"goph_queue_length":            4,
		"goph_flash_failures_total":    6,
		"goph_store_fallbacks_total":   7,
		"goph_store_reclaims_total":    8,
	}, got)
}
