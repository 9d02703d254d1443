package openf1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/PitWall/internal/models"
)

// ParseError rejects one upstream record. The rest of the batch is unaffected.
type ParseError struct {
	Endpoint string
	Field    string
	Value    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("openf1 %s: field %s=%q: %v", e.Endpoint, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("openf1 %s: field %s: %v", e.Endpoint, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissing = fmt.Errorf("missing")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime accepts OpenF1 ISO-8601 timestamps. Values without an offset are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func requiredTime(endpoint, field string, v *string) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return time.Time{}, &ParseError{Endpoint: endpoint, Field: field, Err: errMissing}
	}
	t, err := ParseTime(*v)
	if err != nil {
		return time.Time{}, &ParseError{Endpoint: endpoint, Field: field, Value: *v, Err: err}
	}
	return t, nil
}

func optionalTime(endpoint, field string, v *string) (*time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	t, err := ParseTime(*v)
	if err != nil {
		return nil, &ParseError{Endpoint: endpoint, Field: field, Value: *v, Err: err}
	}
	return &t, nil
}

func requiredInt(endpoint, field string, v *int) (int, error) {
	if v == nil {
		return 0, &ParseError{Endpoint: endpoint, Field: field, Err: errMissing}
	}
	return *v, nil
}

func decode(endpoint string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ParseError{Endpoint: endpoint, Field: "$", Err: err}
	}
	return nil
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

type keysRecord struct {
	MeetingKey   *int `json:"meeting_key"`
	SessionKey   *int `json:"session_key"`
	DriverNumber *int `json:"driver_number"`
}

func (k keysRecord) triplet(endpoint string) (models.Triplet, error) {
	mk, err := requiredInt(endpoint, "meeting_key", k.MeetingKey)
	if err != nil {
		return models.Triplet{}, err
	}
	sk, err := requiredInt(endpoint, "session_key", k.SessionKey)
	if err != nil {
		return models.Triplet{}, err
	}
	dn, err := requiredInt(endpoint, "driver_number", k.DriverNumber)
	if err != nil {
		return models.Triplet{}, err
	}
	return models.Triplet{MeetingKey: mk, SessionKey: sk, DriverNumber: dn}, nil
}

type carDataRecord struct {
	keysRecord
	Date     *string `json:"date"`
	RPM      *int    `json:"rpm"`
	Speed    *int    `json:"speed"`
	NGear    *int    `json:"n_gear"`
	Throttle *int    `json:"throttle"`
	DRS      *int    `json:"drs"`
	Brake    *int    `json:"brake"`
}

func ParseCarData(raw json.RawMessage) (models.CarData, error) {
	const ep = models.DatasetCarData
	var r carDataRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.CarData{}, err
	}
	date, err := requiredTime(ep, "date", r.Date)
	if err != nil {
		return models.CarData{}, err
	}
	k, err := r.triplet(ep)
	if err != nil {
		return models.CarData{}, err
	}
	return models.CarData{
		Date:         date,
		MeetingKey:   k.MeetingKey,
		SessionKey:   k.SessionKey,
		DriverNumber: k.DriverNumber,
		RPM:          intOrZero(r.RPM),
		Speed:        intOrZero(r.Speed),
		NGear:        intOrZero(r.NGear),
		Throttle:     intOrZero(r.Throttle),
		DRS:          intOrZero(r.DRS),
		Brake:        intOrZero(r.Brake),
	}, nil
}

type locationRecord struct {
	keysRecord
	Date *string `json:"date"`
	X    *int    `json:"x"`
	Y    *int    `json:"y"`
	Z    *int    `json:"z"`
}

func ParseLocation(raw json.RawMessage) (models.Location, error) {
	const ep = models.DatasetLocation
	var r locationRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.Location{}, err
	}
	date, err := requiredTime(ep, "date", r.Date)
	if err != nil {
		return models.Location{}, err
	}
	k, err := r.triplet(ep)
	if err != nil {
		return models.Location{}, err
	}
	return models.Location{
		Date:         date,
		MeetingKey:   k.MeetingKey,
		SessionKey:   k.SessionKey,
		DriverNumber: k.DriverNumber,
		X:            intOrZero(r.X),
		Y:            intOrZero(r.Y),
		Z:            intOrZero(r.Z),
	}, nil
}

type meetingRecord struct {
	MeetingKey          *int    `json:"meeting_key"`
	MeetingName         *string `json:"meeting_name"`
	MeetingOfficialName *string `json:"meeting_official_name"`
	Location            *string `json:"location"`
	CountryCode         *string `json:"country_code"`
	CountryName         *string `json:"country_name"`
	CircuitShortName    *string `json:"circuit_short_name"`
	GMTOffset           *string `json:"gmt_offset"`
	DateStart           *string `json:"date_start"`
	Year                *int    `json:"year"`
}

func ParseMeeting(raw json.RawMessage) (models.Meeting, error) {
	const ep = models.DatasetMeetings
	var r meetingRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.Meeting{}, err
	}
	mk, err := requiredInt(ep, "meeting_key", r.MeetingKey)
	if err != nil {
		return models.Meeting{}, err
	}
	start, err := optionalTime(ep, "date_start", r.DateStart)
	if err != nil {
		return models.Meeting{}, err
	}
	return models.Meeting{
		MeetingKey:          mk,
		MeetingName:         strOrEmpty(r.MeetingName),
		MeetingOfficialName: strOrEmpty(r.MeetingOfficialName),
		Location:            strOrEmpty(r.Location),
		CountryCode:         strOrEmpty(r.CountryCode),
		CountryName:         strOrEmpty(r.CountryName),
		CircuitShortName:    strOrEmpty(r.CircuitShortName),
		GMTOffset:           strOrEmpty(r.GMTOffset),
		DateStart:           start,
		Year:                intOrZero(r.Year),
	}, nil
}

type sessionRecord struct {
	MeetingKey       *int    `json:"meeting_key"`
	SessionKey       *int    `json:"session_key"`
	SessionName      *string `json:"session_name"`
	SessionType      *string `json:"session_type"`
	DateStart        *string `json:"date_start"`
	DateEnd          *string `json:"date_end"`
	GMTOffset        *string `json:"gmt_offset"`
	Location         *string `json:"location"`
	CountryName      *string `json:"country_name"`
	CircuitShortName *string `json:"circuit_short_name"`
	Year             *int    `json:"year"`
}

func ParseSession(raw json.RawMessage) (models.Session, error) {
	const ep = models.DatasetSessions
	var r sessionRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.Session{}, err
	}
	mk, err := requiredInt(ep, "meeting_key", r.MeetingKey)
	if err != nil {
		return models.Session{}, err
	}
	sk, err := requiredInt(ep, "session_key", r.SessionKey)
	if err != nil {
		return models.Session{}, err
	}
	start, err := optionalTime(ep, "date_start", r.DateStart)
	if err != nil {
		return models.Session{}, err
	}
	end, err := optionalTime(ep, "date_end", r.DateEnd)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{
		MeetingKey:       mk,
		SessionKey:       sk,
		SessionName:      strOrEmpty(r.SessionName),
		SessionType:      strOrEmpty(r.SessionType),
		DateStart:        start,
		DateEnd:          end,
		GMTOffset:        strOrEmpty(r.GMTOffset),
		Location:         strOrEmpty(r.Location),
		CountryName:      strOrEmpty(r.CountryName),
		CircuitShortName: strOrEmpty(r.CircuitShortName),
		Year:             intOrZero(r.Year),
	}, nil
}

type driverRecord struct {
	keysRecord
	BroadcastName *string `json:"broadcast_name"`
	FullName      *string `json:"full_name"`
	NameAcronym   *string `json:"name_acronym"`
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	TeamName      *string `json:"team_name"`
	TeamColour    *string `json:"team_colour"`
	HeadshotURL   *string `json:"headshot_url"`
	CountryCode   *string `json:"country_code"`
}

func ParseDriver(raw json.RawMessage) (models.Driver, error) {
	const ep = models.DatasetDrivers
	var r driverRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.Driver{}, err
	}
	k, err := r.triplet(ep)
	if err != nil {
		return models.Driver{}, err
	}
	return models.Driver{
		MeetingKey:    k.MeetingKey,
		SessionKey:    k.SessionKey,
		DriverNumber:  k.DriverNumber,
		BroadcastName: strOrEmpty(r.BroadcastName),
		FullName:      strOrEmpty(r.FullName),
		NameAcronym:   strOrEmpty(r.NameAcronym),
		FirstName:     strOrEmpty(r.FirstName),
		LastName:      strOrEmpty(r.LastName),
		TeamName:      strOrEmpty(r.TeamName),
		TeamColour:    strOrEmpty(r.TeamColour),
		HeadshotURL:   strOrEmpty(r.HeadshotURL),
		CountryCode:   strOrEmpty(r.CountryCode),
	}, nil
}

type raceControlRecord struct {
	MeetingKey   *int    `json:"meeting_key"`
	SessionKey   *int    `json:"session_key"`
	Date         *string `json:"date"`
	Category     *string `json:"category"`
	Flag         *string `json:"flag"`
	Scope        *string `json:"scope"`
	Sector       *int    `json:"sector"`
	DriverNumber *int    `json:"driver_number"`
	LapNumber    *int    `json:"lap_number"`
	Message      *string `json:"message"`
}

func ParseRaceControl(raw json.RawMessage) (models.RaceControlEvent, error) {
	const ep = models.DatasetRaceControl
	var r raceControlRecord
	if err := decode(ep, raw, &r); err != nil {
		return models.RaceControlEvent{}, err
	}
	mk, err := requiredInt(ep, "meeting_key", r.MeetingKey)
	if err != nil {
		return models.RaceControlEvent{}, err
	}
	sk, err := requiredInt(ep, "session_key", r.SessionKey)
	if err != nil {
		return models.RaceControlEvent{}, err
	}
	date, err := requiredTime(ep, "date", r.Date)
	if err != nil {
		return models.RaceControlEvent{}, err
	}
	return models.RaceControlEvent{
		MeetingKey:   mk,
		SessionKey:   sk,
		SessionDate:  date,
		Category:     strOrEmpty(r.Category),
		Flag:         strOrEmpty(r.Flag),
		Scope:        strOrEmpty(r.Scope),
		Sector:       r.Sector,
		DriverNumber: r.DriverNumber,
		LapNumber:    r.LapNumber,
		Message:      strOrEmpty(r.Message),
	}, nil
}
