package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/models"
)

// stubStore implements only what the tests reach; anything else panics.
type stubStore struct {
	Store
	meetings []*models.Meeting
}

func (s *stubStore) UpsertMeetings(ctx context.Context, items []*models.Meeting, mode models.ImportMode) (int64, error) {
	s.meetings = append(s.meetings, items...)
	return int64(len(items)), nil
}

func upstream(t *testing.T, wantAuth string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3600"}`))
	})
	mux.HandleFunc("/v1/meetings", func(w http.ResponseWriter, r *http.Request) {
		if wantAuth != "" && r.Header.Get("Authorization") != wantAuth {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"meeting_key":1229,"year":2024,"meeting_name":"Bahrain Grand Prix"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_CatalogRunIsWired(t *testing.T) {
	srv := upstream(t, "Bearer tok-1")
	cfg := &config.Config{
		OpenF1: config.OpenF1Config{
			BaseURL:  srv.URL,
			TokenURL: srv.URL + "/token",
			UseToken: true,
			Username: "u",
			Password: "p",
		},
		Ingest: config.IngestConfig{RetryMaxAttempts: 1},
	}
	st := &stubStore{}
	m := metrics.New()
	var out bytes.Buffer

	p, err := New(cfg, Deps{Store: st, Metrics: m, Output: &out})
	require.NoError(t, err)

	sum, err := p.Catalog.ImportMeetings(context.Background(), 2024, 0, models.ModeInsert)
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.Inserted)
	require.Len(t, st.meetings, 1)

	require.Contains(t, out.String(), "meetings [I]")
	require.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("meetings", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ImportRuns.WithLabelValues("meetings", "ok")))
	require.Contains(t, p.Reporter.Last(), models.DatasetMeetings)
}

func TestNewClient_TokenConfigErrors(t *testing.T) {
	cfg := &config.Config{OpenF1: config.OpenF1Config{UseToken: true}}
	_, err := NewClient(cfg, nil, nil)
	require.Error(t, err)

	_, err = New(cfg, Deps{})
	require.Error(t, err)
}

func TestWindowConfig(t *testing.T) {
	wc, err := WindowConfig(config.IngestConfig{})
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, wc.Margin)
	require.Equal(t, 5*time.Minute, wc.QualifyingExtra)
	require.Equal(t, time.UTC, wc.Location)

	wc, err = WindowConfig(config.IngestConfig{WindowMarginMinutes: 15, QualifyingExtraMinutes: 2, Timezone: "Europe/Paris"})
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, wc.Margin)
	require.Equal(t, 2*time.Minute, wc.QualifyingExtra)
	require.Equal(t, "Europe/Paris", wc.Location.String())

	_, err = WindowConfig(config.IngestConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestPipeline_VerifyRejectsBadCredentials(t *testing.T) {
	var dataCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		dataCalls++
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.Config{OpenF1: config.OpenF1Config{
		BaseURL: srv.URL, TokenURL: srv.URL + "/token", UseToken: true, Username: "u", Password: "bad",
	}}
	p, err := New(cfg, Deps{Store: &stubStore{}})
	require.NoError(t, err)

	err = p.Verify(context.Background())
	require.ErrorIs(t, err, openf1.ErrUnauthorized)
	require.Equal(t, "openf1 credentials: openf1 token: http 401", err.Error())
	require.Zero(t, dataCalls)
}

func TestPipeline_VerifyWithoutTokens(t *testing.T) {
	p, err := New(&config.Config{OpenF1: config.OpenF1Config{BaseURL: "http://127.0.0.1:1"}}, Deps{Store: &stubStore{}})
	require.NoError(t, err)
	require.NoError(t, p.Verify(context.Background()))
}
