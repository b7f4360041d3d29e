package tnvme

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			got[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			got[mf.GetName()] = m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			got[mf.GetName()] = float64(m.GetHistogram().GetSampleCount())
		}
	}
	return got
}

func TestCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(true)
	m.RecordSend(true)
	m.RecordSend(false)
	m.RecordDoorbell()
	m.RecordWait(2*time.Millisecond, false, false)
	m.RecordWait(time.Second, true, false)
	m.RecordReap(2, 1)
	m.RecordMetaReserve(false)
	m.RecordMetaReserve(true)

	got := gather(t, NewCollector(m, "test"))
	assert.Equal(t, 2.0, got["tnvme_commands_sent_total"])
	assert.Equal(t, 1.0, got["tnvme_send_errors_total"])
	assert.Equal(t, 1.0, got["tnvme_doorbells_total"])
	assert.Equal(t, 1.0, got["tnvme_reap_timeouts_total"])
	assert.Equal(t, 2.0, got["tnvme_completions_reaped_total"])
	assert.Equal(t, 1.0, got["tnvme_validation_failures_total"])
	assert.Equal(t, 2.0, got["tnvme_meta_reservations_total"])
	assert.Equal(t, 0.5, got["tnvme_meta_reuse_ratio"])
	assert.Equal(t, 2.0, got["tnvme_reap_wait_seconds"])
}

func TestCollectorFollowsSession(t *testing.T) {
	s, _ := NewTestSession(Options{})
	c := NewCollector(s.Metrics(), s.ID())

	require.NoError(t, s.DisableCompletely())
	got := gather(t, c)
	assert.Equal(t, 1.0, got["tnvme_state_changes_total"])
}

func TestWriteMetricsFile(t *testing.T) {
	m := NewMetrics()
	m.RecordToxic()
	path := filepath.Join(t.TempDir(), "tnvme.prom")

	require.NoError(t, WriteMetricsFile(path, m, "abc"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.Contains(text, `tnvme_toxic_injections_total{session="abc"} 1`), text)
	assert.Contains(t, text, "# TYPE tnvme_reap_wait_seconds histogram")
}
