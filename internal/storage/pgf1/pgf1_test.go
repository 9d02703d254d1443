package pgf1

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BearBump/PitWall/internal/models"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "pitwall_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/pitwall_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func carSample(tr models.Triplet, date string, speed int) models.Sample {
	return models.CarData{
		Date: ts(date), MeetingKey: tr.MeetingKey, SessionKey: tr.SessionKey, DriverNumber: tr.DriverNumber,
		Speed: speed, RPM: 10000, NGear: 7,
	}
}

func TestPGF1_Flow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	require.NoError(t, st.Ping(ctx))

	race := models.SessionRef{MeetingKey: 1229, SessionKey: 9472}
	practice := models.SessionRef{MeetingKey: 1229, SessionKey: 9465}

	t.Run("catalog upserts", func(t *testing.T) {
		n, err := st.UpsertMeetings(ctx, []*models.Meeting{
			{MeetingKey: 1229, MeetingName: "Bahrain Grand Prix", Year: 2024, DateStart: tsPtr("2024-02-29T11:30:00Z")},
			{MeetingKey: 1230, MeetingName: "Saudi Arabian Grand Prix", Year: 2024},
		}, models.ModeInsert)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		n, err = st.UpsertSessions(ctx, []*models.Session{
			{MeetingKey: 1229, SessionKey: 9472, SessionType: "Race", SessionName: "Race",
				DateStart: tsPtr("2024-03-02T15:00:00Z"), DateEnd: tsPtr("2024-03-02T17:00:00Z"), Year: 2024},
			{MeetingKey: 1229, SessionKey: 9465, SessionType: "Practice", SessionName: "Practice 1",
				DateStart: tsPtr("2024-02-29T11:30:00Z"), DateEnd: tsPtr("2024-02-29T12:30:00Z"), Year: 2024},
		}, models.ModeInsert)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		// Insert mode leaves existing rows untouched.
		n, err = st.UpsertSessions(ctx, []*models.Session{
			{MeetingKey: 1229, SessionKey: 9472, SessionType: "Race", SessionName: "renamed"},
		}, models.ModeInsert)
		require.NoError(t, err)
		require.Zero(t, n)
		s, err := st.GetSession(ctx, race)
		require.NoError(t, err)
		require.Equal(t, "Race", s.SessionName)

		// Update mode overwrites them.
		n, err = st.UpsertDrivers(ctx, []*models.Driver{
			{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 1, NameAcronym: "VER"},
			{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 44, NameAcronym: "HAM"},
		}, models.ModeInsert)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = st.UpsertDrivers(ctx, []*models.Driver{
			{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 44, NameAcronym: "HAM", TeamName: "Mercedes"},
		}, models.ModeUpdate)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		drivers, err := st.ListDrivers(ctx, models.SessionFilter{SessionKey: 9472})
		require.NoError(t, err)
		require.Len(t, drivers, 2)
		require.Equal(t, "Mercedes", drivers[1].TeamName)

		_, err = st.GetSession(ctx, models.SessionRef{MeetingKey: 1, SessionKey: 2})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("flag events", func(t *testing.T) {
		lap := 1
		_, err := st.UpsertRaceControl(ctx, []*models.RaceControlEvent{
			{MeetingKey: 1229, SessionKey: 9472, SessionDate: ts("2024-03-02T15:03:00Z"), Flag: "GREEN", Message: "GREEN LIGHT - PIT EXIT OPEN"},
			{MeetingKey: 1229, SessionKey: 9472, SessionDate: ts("2024-03-02T15:05:00Z"), Flag: "GREEN", Message: "Green Light - formation lap", LapNumber: &lap},
			{MeetingKey: 1229, SessionKey: 9472, SessionDate: ts("2024-03-02T16:35:00Z"), Flag: "CHEQUERED", Message: "CHEQUERED FLAG"},
			{MeetingKey: 1229, SessionKey: 9472, SessionDate: ts("2024-03-02T16:40:00Z"), Flag: "CHEQUERED", Message: "CHEQUERED FLAG"},
			{MeetingKey: 1229, SessionKey: 9472, SessionDate: ts("2024-03-02T16:50:00Z"), Flag: "CLEAR", Message: "TRACK CLEAR"},
		}, models.ModeInsert)
		require.NoError(t, err)

		green, err := st.FindFlagEvent(ctx, race, models.FlagGreen, "GREEN LIGHT", false)
		require.NoError(t, err)
		require.Equal(t, ts("2024-03-02T15:03:00Z"), green)

		chequered, err := st.FindFlagEvent(ctx, race, models.FlagChequered, "chequered flag", true)
		require.NoError(t, err)
		require.Equal(t, ts("2024-03-02T16:40:00Z"), chequered)

		_, err = st.FindFlagEvent(ctx, practice, models.FlagGreen, "GREEN LIGHT", false)
		require.ErrorIs(t, err, ErrNotFound)

		evs, err := st.ListRaceControl(ctx, models.SessionFilter{SessionKey: 9472}, "CHEQUERED")
		require.NoError(t, err)
		require.Len(t, evs, 2)
	})

	t.Run("missing keys", func(t *testing.T) {
		mk, err := st.MeetingsWithoutSessions(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, []int{1230}, mk)

		refs, err := st.SessionsMissing(ctx, "drivers", models.SessionFilter{MeetingKey: 1229})
		require.NoError(t, err)
		require.Equal(t, []models.SessionRef{practice}, refs)

		refs, err = st.SessionsMissing(ctx, "race_control", models.SessionFilter{})
		require.NoError(t, err)
		require.Equal(t, []models.SessionRef{practice}, refs)

		_, err = st.SessionsMissing(ctx, "meetings", models.SessionFilter{})
		require.Error(t, err)

		ended, err := st.EndedSessions(ctx, ts("2024-03-02T00:00:00Z"), ts("2024-03-03T00:00:00Z"))
		require.NoError(t, err)
		require.Len(t, ended, 1)
		require.Equal(t, 9472, ended[0].SessionKey)
	})

	t.Run("insert samples is idempotent", func(t *testing.T) {
		tr := models.Triplet{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 1}
		batch := []models.Sample{
			carSample(tr, "2024-03-02T15:10:00.100Z", 280),
			carSample(tr, "2024-03-02T15:10:00.400Z", 282),
			carSample(tr, "2024-03-02T15:10:00.400Z", 282),
		}
		n, err := st.InsertSamples(ctx, models.DatasetCarData, batch)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		n, err = st.InsertSamples(ctx, models.DatasetCarData, batch[:2])
		require.NoError(t, err)
		require.Zero(t, n)

		got, err := st.ImportedTriplets(ctx, models.DatasetCarData, models.SessionFilter{SessionKey: 9472})
		require.NoError(t, err)
		require.Contains(t, got, tr)
		require.Len(t, got, 1)

		_, err = st.InsertSamples(ctx, "drivers", batch)
		require.Error(t, err)
	})

	t.Run("replace only touches the batch range", func(t *testing.T) {
		tr := models.Triplet{MeetingKey: 1229, SessionKey: 9472, DriverNumber: 44}
		_, err := st.InsertSamples(ctx, models.DatasetCarData, []models.Sample{
			carSample(tr, "2024-03-02T15:20:00Z", 100),
			carSample(tr, "2024-03-02T15:21:00Z", 101),
			carSample(tr, "2024-03-02T15:22:00Z", 102),
			carSample(tr, "2024-03-02T15:23:00Z", 103),
		})
		require.NoError(t, err)

		// The new batch spans 15:21..15:22 only; 15:20 and 15:23 sit inside the
		// nominal chunk but outside the batch and must survive.
		deleted, inserted, err := st.ReplaceSamples(ctx, models.DatasetCarData, tr, []models.Sample{
			carSample(tr, "2024-03-02T15:22:00Z", 202),
			carSample(tr, "2024-03-02T15:21:00Z", 201),
		})
		require.NoError(t, err)
		require.Equal(t, int64(2), deleted)
		require.Equal(t, int64(2), inserted)

		rows, err := st.ListCarData(ctx, models.SampleQuery{SessionKey: 9472, DriverNumber: 44})
		require.NoError(t, err)
		require.Len(t, rows, 4)
		speeds := []int{rows[0].Speed, rows[1].Speed, rows[2].Speed, rows[3].Speed}
		require.Equal(t, []int{100, 201, 202, 103}, speeds)

		from := ts("2024-03-02T15:21:00Z")
		to := ts("2024-03-02T15:23:00Z")
		rows, err = st.ListCarData(ctx, models.SampleQuery{SessionKey: 9472, DriverNumber: 44, From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("location samples", func(t *testing.T) {
		loc := []models.Sample{
			models.Location{Date: ts("2024-03-02T15:10:00Z"), MeetingKey: 1229, SessionKey: 9472, DriverNumber: 1, X: 10, Y: 20, Z: 1},
		}
		n, err := st.InsertSamples(ctx, models.DatasetLocation, loc)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		rows, err := st.ListLocation(ctx, models.SampleQuery{SessionKey: 9472, Limit: 10})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, 20, rows[0].Y)
	})
}
