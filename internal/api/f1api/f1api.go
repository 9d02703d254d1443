// Package f1api is the JSON read API over the imported OpenF1 data.
package f1api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/services/f1data"
)

type Reader interface {
	Meetings(ctx context.Context, year int) ([]*models.Meeting, error)
	Sessions(ctx context.Context, meetingKey int, sessionType string) ([]*models.Session, error)
	Drivers(ctx context.Context, f models.SessionFilter) ([]*models.Driver, error)
	RaceControl(ctx context.Context, f models.SessionFilter, flag string) ([]*models.RaceControlEvent, error)
	CarData(ctx context.Context, q models.SampleQuery) ([]*models.CarData, error)
	Location(ctx context.Context, q models.SampleQuery) ([]*models.Location, error)
}

type API struct {
	svc      Reader
	validate *validator.Validate
}

func New(svc Reader) *API {
	return &API{svc: svc, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Routes registers the /api endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/meetings", a.listMeetings)
		r.Get("/sessions", a.listSessions)
		r.Get("/drivers", a.listDrivers)
		r.Get("/race-control", a.listRaceControl)
		r.Get("/car-data", a.listCarData)
		r.Get("/location", a.listLocation)
	})
}

type meetingsQuery struct {
	Year int `validate:"omitempty,min=2018,max=2100"`
}

type sessionsQuery struct {
	MeetingKey  int    `validate:"gte=0"`
	SessionType string `validate:"omitempty,max=32"`
}

type sessionFilterQuery struct {
	MeetingKey int    `validate:"required_without=SessionKey,gte=0"`
	SessionKey int    `validate:"gte=0"`
	Flag       string `validate:"omitempty,max=32"`
}

type samplesQuery struct {
	SessionKey   int `validate:"required,gt=0"`
	DriverNumber int `validate:"gte=0,lte=99"`
	DateFrom     *time.Time
	DateTo       *time.Time
	Limit        int `validate:"gte=0,lte=10000"`
}

func (a *API) listMeetings(w http.ResponseWriter, r *http.Request) {
	p := params(r.URL.Query())
	q := meetingsQuery{Year: p.intVal("year")}
	if !a.valid(w, p, q) {
		return
	}
	out, err := a.svc.Meetings(r.Context(), q.Year)
	a.respond(w, orEmpty(out), err)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	p := params(r.URL.Query())
	q := sessionsQuery{MeetingKey: p.intVal("meeting_key"), SessionType: p.Get("session_type")}
	if !a.valid(w, p, q) {
		return
	}
	out, err := a.svc.Sessions(r.Context(), q.MeetingKey, q.SessionType)
	a.respond(w, orEmpty(out), err)
}

func (a *API) listDrivers(w http.ResponseWriter, r *http.Request) {
	p := params(r.URL.Query())
	q := sessionFilterQuery{MeetingKey: p.intVal("meeting_key"), SessionKey: p.intVal("session_key")}
	if !a.valid(w, p, q) {
		return
	}
	out, err := a.svc.Drivers(r.Context(), models.SessionFilter{MeetingKey: q.MeetingKey, SessionKey: q.SessionKey})
	a.respond(w, orEmpty(out), err)
}

func (a *API) listRaceControl(w http.ResponseWriter, r *http.Request) {
	p := params(r.URL.Query())
	q := sessionFilterQuery{MeetingKey: p.intVal("meeting_key"), SessionKey: p.intVal("session_key"), Flag: strings.ToUpper(p.Get("flag"))}
	if !a.valid(w, p, q) {
		return
	}
	out, err := a.svc.RaceControl(r.Context(), models.SessionFilter{MeetingKey: q.MeetingKey, SessionKey: q.SessionKey}, q.Flag)
	a.respond(w, orEmpty(out), err)
}

func (a *API) listCarData(w http.ResponseWriter, r *http.Request) {
	q, ok := a.samples(w, r)
	if !ok {
		return
	}
	out, err := a.svc.CarData(r.Context(), q)
	a.respond(w, orEmpty(out), err)
}

func (a *API) listLocation(w http.ResponseWriter, r *http.Request) {
	q, ok := a.samples(w, r)
	if !ok {
		return
	}
	out, err := a.svc.Location(r.Context(), q)
	a.respond(w, orEmpty(out), err)
}

func (a *API) samples(w http.ResponseWriter, r *http.Request) (models.SampleQuery, bool) {
	p := params(r.URL.Query())
	q := samplesQuery{
		SessionKey:   p.intVal("session_key"),
		DriverNumber: p.intVal("driver_number"),
		DateFrom:     p.timeVal("date_from"),
		DateTo:       p.timeVal("date_to"),
		Limit:        p.intVal("limit"),
	}
	if !a.valid(w, p, q) {
		return models.SampleQuery{}, false
	}
	return models.SampleQuery{
		SessionKey:   q.SessionKey,
		DriverNumber: q.DriverNumber,
		From:         q.DateFrom,
		To:           q.DateTo,
		Limit:        q.Limit,
	}, true
}

// queryParser reads typed query values, remembering the first one that
// failed to parse.
type queryParser struct {
	v   url.Values
	bad string
}

func params(v url.Values) *queryParser { return &queryParser{v: v} }

func (p *queryParser) Get(key string) string { return p.v.Get(key) }

func (p *queryParser) intVal(key string) int {
	s := p.Get(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key)
		return 0
	}
	return n
}

func (p *queryParser) timeVal(key string) *time.Time {
	s := p.Get(key)
	if s == "" {
		return nil
	}
	t, err := openf1.ParseTime(s)
	if err != nil {
		p.fail(key)
		return nil
	}
	return &t
}

func (p *queryParser) fail(key string) {
	if p.bad == "" {
		p.bad = key
	}
}

func (a *API) valid(w http.ResponseWriter, p *queryParser, q any) bool {
	if p.bad != "" {
		writeError(w, http.StatusBadRequest, "invalid value for "+p.bad)
		return false
	}
	if err := a.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (a *API) respond(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, f1data.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("read api", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// orEmpty keeps empty results encoded as [] rather than null.
func orEmpty[T any](s []*T) []*T {
	if s == nil {
		return []*T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
