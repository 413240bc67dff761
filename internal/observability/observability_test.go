package observability

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/tracker"
)

func TestNewIncludesRuntimeCollectors(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "go_goroutines" {
			found = true
			break
		}
	}
	assert.True(t, found, "expected the Go runtime collector to be registered")
}

func TestGatherExposesSourceValues(t *testing.T) {
	t.Parallel()

	m, err := New(WithTracker(func() tracker.Stats {
		return tracker.Stats{Connected: true, ActiveCalls: 3, Triggered: 7}
	}))
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	active := byName["carebell_calls_active"]
	require.NotNil(t, active)
	require.Len(t, active.GetMetric(), 1)
	assert.Equal(t, dto.MetricType_GAUGE, active.GetType())
	assert.InDelta(t, 3, active.GetMetric()[0].GetGauge().GetValue(), 0)

	triggered := byName["carebell_calls_triggered_total"]
	require.NotNil(t, triggered)
	assert.Equal(t, dto.MetricType_COUNTER, triggered.GetType())
	assert.InDelta(t, 7, triggered.GetMetric()[0].GetCounter().GetValue(), 0)
}

func TestNewRejectsDuplicateSource(t *testing.T) {
	t.Parallel()

	stats := func() tracker.Stats { return tracker.Stats{} }
	m, err := New(WithTracker(stats), WithTracker(stats))
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestHandlerServesWiredSources(t *testing.T) {
	t.Parallel()

	m, err := New(
		WithTracker(func() tracker.Stats {
			return tracker.Stats{Connected: true, ActiveCalls: 1, Triggered: 12}
		}),
		WithHistory(
			func() int { return 4 },
			func() history.FlushStats { return history.FlushStats{Flushes: 2} },
		),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "carebell_calls_triggered_total 12")
	assert.Contains(t, body, "carebell_history_records 4")
	assert.Contains(t, body, "# TYPE carebell_calls_active gauge")
	assert.Contains(t, body, "go_goroutines")
}
