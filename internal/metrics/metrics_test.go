package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PitWall/internal/models"
)

func TestObserveRequest(t *testing.T) {
	r := New()
	r.ObserveRequest("car_data", 503, errors.New("http 503"))
	r.ObserveRequest("car_data", 503, errors.New("http 503"))
	r.ObserveRequest("car_data", 200, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.UpstreamRequests.WithLabelValues("car_data", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UpstreamRequests.WithLabelValues("car_data", "200")))
}

func TestObserveChunk_SkipsZeroes(t *testing.T) {
	r := New()
	r.ObserveChunk("location", 10, 0, 0, 0, 2, 0)
	r.ObserveChunk("location", 5, 3, 0, 1, 0, 0)

	assert.Equal(t, 15.0, testutil.ToFloat64(r.Rows.WithLabelValues("location", OutcomeInserted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Rows.WithLabelValues("location", OutcomeSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Errors.WithLabelValues("location", KindBuild)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Errors.WithLabelValues("location", KindAPI)))
	// Zero increments never create a series.
	assert.Equal(t, 2, testutil.CollectAndCount(r.Rows))
	assert.Equal(t, 2, testutil.CollectAndCount(r.Errors))
}

func TestObserveRun_Status(t *testing.T) {
	r := New()
	start := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)

	r.ObserveRun(models.ImportSummary{Dataset: "drivers", Inserted: 20, StartedAt: start, FinishedAt: start.Add(2 * time.Second)}, true)
	r.ObserveRun(models.ImportSummary{Dataset: "drivers", APIErrors: 1}, true)
	r.ObserveRun(models.ImportSummary{Dataset: "car_data", Aborted: "context canceled", Inserted: 7}, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ImportRuns.WithLabelValues("drivers", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ImportRuns.WithLabelValues("drivers", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ImportRuns.WithLabelValues("car_data", "aborted")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.Rows.WithLabelValues("drivers", OutcomeInserted)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.Rows, "pitwall_rows_total"))
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveCache(true)
	r.ObserveCache(false)
	r.ObserveCache(false)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(b)
	assert.True(t, strings.Contains(body, `pitwall_cache_lookups_total{result="miss"} 2`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
