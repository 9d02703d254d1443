package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
)

type storeMock struct {
	mock.Mock
}

func (m *storeMock) UpsertMeetings(ctx context.Context, items []*models.Meeting, mode models.ImportMode) (int64, error) {
	args := m.Called(ctx, items, mode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storeMock) UpsertSessions(ctx context.Context, items []*models.Session, mode models.ImportMode) (int64, error) {
	args := m.Called(ctx, items, mode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storeMock) UpsertDrivers(ctx context.Context, items []*models.Driver, mode models.ImportMode) (int64, error) {
	args := m.Called(ctx, items, mode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storeMock) UpsertRaceControl(ctx context.Context, items []*models.RaceControlEvent, mode models.ImportMode) (int64, error) {
	args := m.Called(ctx, items, mode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storeMock) MeetingsWithoutSessions(ctx context.Context, meetingKey int) ([]int, error) {
	args := m.Called(ctx, meetingKey)
	keys, _ := args.Get(0).([]int)
	return keys, args.Error(1)
}

func (m *storeMock) SessionsMissing(ctx context.Context, table string, f models.SessionFilter) ([]models.SessionRef, error) {
	args := m.Called(ctx, table, f)
	refs, _ := args.Get(0).([]models.SessionRef)
	return refs, args.Error(1)
}

type reporterStub struct {
	got []models.ImportSummary
}

func (r *reporterStub) Report(ctx context.Context, s models.ImportSummary) { r.got = append(r.got, s) }

type CatalogSuite struct {
	suite.Suite

	mu      sync.Mutex
	queries []string
	status  map[string]int
	bodies  map[string]string

	srv    *httptest.Server
	store  *storeMock
	rep    *reporterStub
	waits  []time.Duration
	client *openf1.Client
	im     *Importer
}

func (s *CatalogSuite) SetupTest() {
	s.queries = nil
	s.status = map[string]int{}
	s.bodies = map[string]string{}
	s.waits = nil

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Path+"?"+r.URL.RawQuery)
		code, body := s.status[r.URL.RawQuery], s.bodies[r.URL.RawQuery]
		s.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			return
		}
		if body == "" {
			body = "[]"
		}
		_, _ = w.Write([]byte(body))
	}))

	s.store = &storeMock{}
	s.rep = &reporterStub{}
	s.client = openf1.New(s.srv.URL, time.Second).
		WithRetryPolicy(openf1.RetryPolicy{MaxAttempts: 1})
	s.im = New(s.client, s.store, s.rep).WithRequestDelay(250 * time.Millisecond)
	s.im.sleep = func(ctx context.Context, d time.Duration) error {
		s.waits = append(s.waits, d)
		return nil
	}
}

func (s *CatalogSuite) TearDownTest() {
	s.srv.Close()
}

func (s *CatalogSuite) TestImportMeetings_ByYear() {
	s.bodies["year=2024"] = `[
  {"meeting_key":1229,"meeting_name":"Bahrain Grand Prix","year":2024,"date_start":"2024-02-29T11:30:00+00:00"},
  {"meeting_key":1230,"meeting_name":"Saudi Arabian Grand Prix","year":2024},
  {"meeting_name":"no key"}
]`
	s.store.On("UpsertMeetings", mock.Anything, mock.MatchedBy(func(items []*models.Meeting) bool {
		return len(items) == 2 && items[0].MeetingKey == 1229
	}), models.ModeInsert).Return(int64(1), nil).Once()

	sum, err := s.im.ImportMeetings(context.Background(), 2024, 0, models.ModeInsert)
	s.Require().NoError(err)
	s.Require().Equal(int64(3), sum.Fetched)
	s.Require().Equal(int64(1), sum.Inserted)
	s.Require().Equal(int64(1), sum.Skipped)
	s.Require().Equal(int64(1), sum.BuildErrors)
	s.Require().Len(s.rep.got, 1)
	s.store.AssertExpectations(s.T())
}

func (s *CatalogSuite) TestImportSessions_MissingMeetingsWithDelay() {
	s.store.On("MeetingsWithoutSessions", mock.Anything, 0).Return([]int{1229, 1230, 1231}, nil).Once()
	s.bodies["meeting_key=1229"] = `[{"meeting_key":1229,"session_key":9472,"session_type":"Race","date_start":"2024-03-02T15:00:00Z","date_end":"2024-03-02T17:00:00Z"}]`
	s.status["meeting_key=1230"] = http.StatusInternalServerError
	s.store.On("UpsertSessions", mock.Anything, mock.Anything, models.ModeInsert).Return(int64(1), nil).Once()

	sum, err := s.im.ImportSessions(context.Background(), models.SessionFilter{}, models.ModeInsert)
	s.Require().NoError(err)
	s.Require().Equal(int64(3), sum.Requests)
	s.Require().Equal(int64(1), sum.APIErrors)
	s.Require().Equal(int64(1), sum.Inserted)
	s.Require().Equal([]models.SessionRef{{MeetingKey: 1229, SessionKey: 9472}}, sum.Sessions)
	s.Require().Equal([]time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, s.waits)
	s.Require().Equal([]string{
		"/v1/sessions?meeting_key=1229",
		"/v1/sessions?meeting_key=1230",
		"/v1/sessions?meeting_key=1231",
	}, s.queries)
	s.store.AssertExpectations(s.T())
}

func (s *CatalogSuite) TestImportSessions_UpdateModeSingleCall() {
	s.store.On("UpsertSessions", mock.Anything, mock.Anything, models.ModeUpdate).Return(int64(0), nil).Maybe()

	_, err := s.im.ImportSessions(context.Background(), models.SessionFilter{MeetingKey: 1229}, models.ModeUpdate)
	s.Require().NoError(err)
	s.Require().Equal([]string{"/v1/sessions?meeting_key=1229"}, s.queries)
	s.store.AssertNotCalled(s.T(), "MeetingsWithoutSessions", mock.Anything, mock.Anything)
}

func (s *CatalogSuite) TestImportDrivers_ExplicitSession() {
	s.bodies["meeting_key=1229&session_key=9472"] = `[
  {"meeting_key":1229,"session_key":9472,"driver_number":1,"name_acronym":"VER"},
  {"meeting_key":1229,"session_key":9472,"driver_number":44,"name_acronym":"HAM"}
]`
	s.store.On("UpsertDrivers", mock.Anything, mock.Anything, models.ModeUpdate).Return(int64(2), nil).Once()

	sum, err := s.im.ImportDrivers(context.Background(), models.SessionFilter{MeetingKey: 1229, SessionKey: 9472}, models.ModeUpdate)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), sum.Inserted)
	s.Require().Empty(s.waits)
	s.store.AssertExpectations(s.T())
}

func (s *CatalogSuite) TestImportRaceControl_MissingSessions() {
	s.store.On("SessionsMissing", mock.Anything, models.DatasetRaceControl, models.SessionFilter{MeetingKey: 1229}).
		Return([]models.SessionRef{{MeetingKey: 1229, SessionKey: 9472}}, nil).Once()
	s.bodies["meeting_key=1229&session_key=9472"] = `[
  {"meeting_key":1229,"session_key":9472,"date":"2024-03-02T15:03:00Z","flag":"GREEN","message":"GREEN LIGHT - PIT EXIT OPEN"},
  {"meeting_key":1229,"session_key":9472,"flag":"CHEQUERED","message":"CHEQUERED FLAG"}
]`
	s.store.On("UpsertRaceControl", mock.Anything, mock.Anything, models.ModeInsert).
		Return(int64(0), errors.New("connection reset")).Once()

	sum, err := s.im.ImportRaceControl(context.Background(), models.SessionFilter{MeetingKey: 1229}, models.ModeInsert)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), sum.BuildErrors)
	s.Require().Equal(int64(1), sum.DBErrors)
	s.Require().Zero(sum.Inserted)
	s.store.AssertExpectations(s.T())
}

func (s *CatalogSuite) TestStoreLookupFailureAbortsAndReports() {
	s.store.On("SessionsMissing", mock.Anything, models.DatasetDrivers, models.SessionFilter{}).
		Return(nil, errors.New("db down")).Once()

	sum, err := s.im.ImportDrivers(context.Background(), models.SessionFilter{}, models.ModeInsert)
	s.Require().Error(err)
	s.Require().Equal("db down", sum.Aborted)
	s.Require().Len(s.rep.got, 1)
	s.Require().Empty(s.queries)
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "meeting_key=1&session_key=2", describe(request{openf1.Eq("meeting_key", 1), openf1.Eq("session_key", 2)}))
}
