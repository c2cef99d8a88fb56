package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetric(t *testing.T) {
	t.Run("should expose sync metrics per table", func(t *testing.T) {
		m := NewMetric("mysql", "postgres")
		registry := NewRegistry(m)

		m.RowsSyncedIncrement("orders", 50)
		m.RowsSyncedIncrement("orders", 25)
		m.BatchIncrement("orders")
		m.RetryIncrement("orders", "write")
		m.SetWatermark("orders", 150)
		m.SetRunDuration(2 * time.Second)
		m.SetTables(2, 1)

		families, err := registry.Prometheus().Gather()
		require.NoError(t, err)

		values := map[string]float64{}
		for _, f := range families {
			for _, s := range f.GetMetric() {
				switch {
				case s.GetCounter() != nil:
					values[f.GetName()] += s.GetCounter().GetValue()
				case s.GetGauge() != nil:
					values[f.GetName()] += s.GetGauge().GetValue()
				}
			}
		}

		assert.InDelta(t, 75, values["go_db_sync_rows_synced_total"], 0)
		assert.InDelta(t, 1, values["go_db_sync_batches_total"], 0)
		assert.InDelta(t, 1, values["go_db_sync_retries_total"], 0)
		assert.InDelta(t, 150, values["go_db_sync_offset_watermark"], 0)
		assert.InDelta(t, 2, values["go_db_sync_run_duration_seconds"], 0)
		assert.InDelta(t, 3, values["go_db_sync_run_tables"], 0)
	})

	t.Run("should skip a colliding user collector", func(t *testing.T) {
		registry := NewRegistry(NewMetric("sqlite", "sqlite"))
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_total", Help: "custom"})

		assert.NotPanics(t, func() {
			registry.AddMetricCollectors(c)
			registry.AddMetricCollectors(c)
		})

		c.Inc()
		families, err := registry.Prometheus().Gather()
		require.NoError(t, err)

		var found bool
		for _, f := range families {
			if f.GetName() == "custom_total" {
				found = true
				assert.InDelta(t, 1, f.GetMetric()[0].GetCounter().GetValue(), 0)
			}
		}
		assert.True(t, found)
	})
}
