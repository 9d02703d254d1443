package models

import "time"

// Sample is one timestamped telemetry row keyed by (date, session, meeting, driver).
// Values returns the row in the column order of its table.
type Sample interface {
	Key() SampleKey
	Values() []any
}

type SampleKey struct {
	Date time.Time
	Triplet
}

type CarData struct {
	Date         time.Time `json:"date"`
	MeetingKey   int       `json:"meeting_key"`
	SessionKey   int       `json:"session_key"`
	DriverNumber int       `json:"driver_number"`
	RPM          int       `json:"rpm"`
	Speed        int       `json:"speed"`
	NGear        int       `json:"n_gear"`
	Throttle     int       `json:"throttle"`
	DRS          int       `json:"drs"`
	Brake        int       `json:"brake"`
}

func (c CarData) Key() SampleKey {
	return SampleKey{Date: c.Date, Triplet: Triplet{MeetingKey: c.MeetingKey, SessionKey: c.SessionKey, DriverNumber: c.DriverNumber}}
}

func (c CarData) Values() []any {
	return []any{c.Date.UTC(), c.SessionKey, c.MeetingKey, c.DriverNumber, c.RPM, c.Speed, c.NGear, c.Throttle, c.DRS, c.Brake}
}

type Location struct {
	Date         time.Time `json:"date"`
	MeetingKey   int       `json:"meeting_key"`
	SessionKey   int       `json:"session_key"`
	DriverNumber int       `json:"driver_number"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	Z            int       `json:"z"`
}

func (l Location) Key() SampleKey {
	return SampleKey{Date: l.Date, Triplet: Triplet{MeetingKey: l.MeetingKey, SessionKey: l.SessionKey, DriverNumber: l.DriverNumber}}
}

func (l Location) Values() []any {
	return []any{l.Date.UTC(), l.SessionKey, l.MeetingKey, l.DriverNumber, l.X, l.Y, l.Z}
}

// SampleQuery is a read filter over a telemetry table.
type SampleQuery struct {
	SessionKey   int
	DriverNumber int
	From         *time.Time
	To           *time.Time
	Limit        int
}
