package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
)

type fakeEnum struct {
	en  Enumeration
	err error
}

func (f fakeEnum) Enumerate(ctx context.Context, table string, flt models.SessionFilter, mode models.ImportMode) (Enumeration, error) {
	return f.en, f.err
}

func TestImporter_Import(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("driver_number") == "44" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(jsonArray(carJSON(ver, "2024-03-02T15:01:00Z", 250))))
	}))
	defer srv.Close()

	ham := models.Triplet{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 44}
	w := Window{Start: at("2024-03-02T15:00:00Z"), End: at("2024-03-02T15:30:00Z")}
	enum := fakeEnum{en: Enumeration{
		Jobs:            []Job{{Triplet: ver, Window: w}, {Triplet: ham, Window: w}},
		Sessions:        []models.SessionRef{raceRef},
		SkippedSessions: 1,
	}}

	rep := &recordingReporter{}
	var hooked []string
	im := NewImporter(enum, openf1.New(srv.URL, time.Second), newMemStore(), rep).
		WithSettings(20*time.Minute, 2).
		WithResultHook(func(ds string, r ChunkResult) { hooked = append(hooked, ds) })

	sum, err := im.Import(context.Background(), CarData, Options{})
	require.NoError(t, err)

	require.Equal(t, models.ModeInsert, sum.Mode)
	require.NotEmpty(t, sum.RunID)
	require.Equal(t, 2, sum.Triplets)
	require.Equal(t, 1, sum.SkippedSessions)
	require.Equal(t, int64(4), sum.Requests)
	require.Equal(t, int64(2), sum.APIErrors)
	// Both chunks of ver return the same row.
	require.Equal(t, int64(1), sum.Inserted)
	require.Equal(t, int64(1), sum.Skipped)
	require.Len(t, hooked, 4)

	require.Len(t, rep.summaries, 1)
	require.Equal(t, sum.RunID, rep.summaries[0].RunID)
	require.False(t, rep.summaries[0].FinishedAt.IsZero())
	require.Equal(t, int64(4), im.Stats().Completed)
}

func TestImporter_ReportsAbortedRun(t *testing.T) {
	rep := &recordingReporter{}
	im := NewImporter(fakeEnum{err: errors.New("db down")}, nil, nil, rep)

	sum, err := im.Import(context.Background(), Location, Options{Mode: models.ModeUpdate})
	require.Error(t, err)
	require.Equal(t, models.ModeUpdate, sum.Mode)
	require.Len(t, rep.summaries, 1)
	require.Contains(t, rep.summaries[0].Aborted, "db down")
}
