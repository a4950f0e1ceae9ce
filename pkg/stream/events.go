package stream

import (
	"net/url"
	"slices"
	"time"
)

// EventsName is the name of the events stream.
const EventsName = "events"

const eventsPath = "/api/0/organizations/{organization_id_or_slug}/events/"

// Events syncs the organization's events inside a time window, newest
// first. Records are wrapped so the full upstream event is kept under raw.
type Events struct {
	Base
	settings Settings
	now      func() time.Time
}

// NewEvents builds the events stream.
func NewEvents(s Settings) *Events {
	return &Events{
		Base: newBase(EventsName, eventsPath, "$.data[*]", s.OrganizationID, NewSchema(map[string]Property{
			"id":        StringType(),
			"raw":       ObjectType(nil),
			"timestamp": DateTimeType(),
		})),
		settings: s,
		now:      time.Now,
	}
}

// BuildParams sends the field selection, filter and time window on the
// first page. Continuation pages reuse the parameters of the next link,
// which already carry the original selection.
func (e *Events) BuildParams(token *url.URL) Params {
	if token != nil {
		return ParamsFromURL(token)
	}

	fields := slices.Clone(e.settings.EventFields)
	for _, required := range []string{"id", "timestamp"} {
		if !slices.Contains(fields, required) {
			fields = append(fields, required)
		}
	}

	params := Params{
		"field": List(fields...),
		"sort":  Scalar("-timestamp"),
	}
	if e.settings.EventQuery != "" {
		params["query"] = Scalar(e.settings.EventQuery)
	}

	currentHour := e.now().UTC().Truncate(time.Hour)
	start := e.settings.EventStart
	if start == "" {
		start = currentHour.Add(-time.Hour).Format(time.RFC3339)
	}
	end := e.settings.EventEnd
	if end == "" {
		end = currentHour.Format(time.RFC3339)
	}
	params["start"] = Scalar(start)
	params["end"] = Scalar(end)

	return params
}

// PostProcess keeps id and timestamp at the top level and the whole event
// under raw.
func (e *Events) PostProcess(raw Record) (Record, bool) {
	return Record{
		"id":        raw["id"],
		"raw":       raw,
		"timestamp": raw["timestamp"],
	}, true
}
