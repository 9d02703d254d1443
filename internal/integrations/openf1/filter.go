package openf1

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Filter is one `field<op>value` condition of an OpenF1 query. Conditions are
// joined with `&` and act as a conjunction.
type Filter struct {
	Field string
	Op    string
	Value string
}

func Eq(field string, v int) Filter {
	return Filter{Field: field, Op: "=", Value: strconv.Itoa(v)}
}

func EqString(field, v string) Filter {
	return Filter{Field: field, Op: "=", Value: v}
}

// After is a strict lower bound on a time field.
func After(field string, t time.Time) Filter {
	return Filter{Field: field, Op: ">", Value: formatTime(t)}
}

// Before is a strict upper bound on a time field.
func Before(field string, t time.Time) Filter {
	return Filter{Field: field, Op: "<", Value: formatTime(t)}
}

func (f Filter) String() string {
	return url.QueryEscape(f.Field) + f.Op + url.QueryEscape(f.Value)
}

func encodeFilters(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f.Field == "" {
			continue
		}
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "&")
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
