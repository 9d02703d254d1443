package models

import (
	"strings"
	"time"
)

// Session types as reported by OpenF1, lower-cased.
const (
	SessionTypeRace       = "race"
	SessionTypeQualifying = "qualifying"
	SessionTypePractice   = "practice"
)

// Race control flags used to bound the racing period of a session.
const (
	FlagGreen     = "GREEN"
	FlagChequered = "CHEQUERED"
)

type Meeting struct {
	MeetingKey          int        `json:"meeting_key"`
	MeetingName         string     `json:"meeting_name"`
	MeetingOfficialName string     `json:"meeting_official_name"`
	Location            string     `json:"location"`
	CountryCode         string     `json:"country_code"`
	CountryName         string     `json:"country_name"`
	CircuitShortName    string     `json:"circuit_short_name"`
	GMTOffset           string     `json:"gmt_offset"`
	DateStart           *time.Time `json:"date_start,omitempty"`
	Year                int        `json:"year"`
}

type Session struct {
	MeetingKey       int        `json:"meeting_key"`
	SessionKey       int        `json:"session_key"`
	SessionName      string     `json:"session_name"`
	SessionType      string     `json:"session_type"`
	DateStart        *time.Time `json:"date_start,omitempty"`
	DateEnd          *time.Time `json:"date_end,omitempty"`
	GMTOffset        string     `json:"gmt_offset"`
	Location         string     `json:"location"`
	CountryName      string     `json:"country_name"`
	CircuitShortName string     `json:"circuit_short_name"`
	Year             int        `json:"year"`
}

// NormalizedType returns the session type lower-cased and trimmed.
func (s Session) NormalizedType() string {
	return strings.ToLower(strings.TrimSpace(s.SessionType))
}

func (s Session) Ref() SessionRef {
	return SessionRef{MeetingKey: s.MeetingKey, SessionKey: s.SessionKey}
}

type Driver struct {
	MeetingKey    int    `json:"meeting_key"`
	SessionKey    int    `json:"session_key"`
	DriverNumber  int    `json:"driver_number"`
	BroadcastName string `json:"broadcast_name"`
	FullName      string `json:"full_name"`
	NameAcronym   string `json:"name_acronym"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	TeamName      string `json:"team_name"`
	TeamColour    string `json:"team_colour"`
	HeadshotURL   string `json:"headshot_url"`
	CountryCode   string `json:"country_code"`
}

func (d Driver) Triplet() Triplet {
	return Triplet{MeetingKey: d.MeetingKey, SessionKey: d.SessionKey, DriverNumber: d.DriverNumber}
}

type RaceControlEvent struct {
	MeetingKey   int       `json:"meeting_key"`
	SessionKey   int       `json:"session_key"`
	SessionDate  time.Time `json:"date"`
	Category     string    `json:"category"`
	Flag         string    `json:"flag"`
	Scope        string    `json:"scope"`
	Sector       *int      `json:"sector,omitempty"`
	DriverNumber *int      `json:"driver_number,omitempty"`
	LapNumber    *int      `json:"lap_number,omitempty"`
	Message      string    `json:"message"`
}

// SessionRef identifies a session within a meeting.
type SessionRef struct {
	MeetingKey int `json:"meeting_key"`
	SessionKey int `json:"session_key"`
}

// Triplet is the unit of per-driver-per-session work.
type Triplet struct {
	MeetingKey   int `json:"meeting_key"`
	SessionKey   int `json:"session_key"`
	DriverNumber int `json:"driver_number"`
}

func (t Triplet) Session() SessionRef {
	return SessionRef{MeetingKey: t.MeetingKey, SessionKey: t.SessionKey}
}

// SessionFilter narrows a query to a meeting and/or session. Zero means "any".
type SessionFilter struct {
	MeetingKey int
	SessionKey int
}

func (f SessionFilter) Matches(ref SessionRef) bool {
	if f.MeetingKey != 0 && f.MeetingKey != ref.MeetingKey {
		return false
	}
	if f.SessionKey != 0 && f.SessionKey != ref.SessionKey {
		return false
	}
	return true
}
