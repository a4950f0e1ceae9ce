// Package stream defines the Sentry streams a tap run can sync.
//
// Each stream kind supplies its API path, the JSON path of its records in a
// response body, its declared schema, how query parameters are built for the
// first page and for continuation pages, and how a raw record is reshaped
// before emission. Kinds embed Base and override only what differs.
package stream

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Settings is the read-only run configuration the streams consume.
type Settings struct {
	// OrganizationID is the organization id or slug in every stream path.
	OrganizationID string

	// Query is the structured search query for the issues stream.
	Query string

	// EventFields is the field selection for the events stream.
	EventFields []string

	// EventQuery is the free-text filter for the events stream.
	EventQuery string

	// EventStart and EventEnd override the default rolling window.
	EventStart string
	EventEnd   string
}

// Stream is the per-kind behavior the fetch loop drives.
type Stream interface {
	// Name is the stream identifier used in catalogs and output.
	Name() string

	// Path is the API path relative to the base URL.
	Path() string

	// RecordsPath is the JSON path of the record collection in a page.
	RecordsPath() string

	// PrimaryKeys lists the fields that identify a record.
	PrimaryKeys() []string

	// Schema is the declared output field set.
	Schema() Schema

	// BuildParams returns the query parameters for the next request. token
	// is nil on the first page of a run.
	BuildParams(token *url.URL) Params

	// PostProcess reshapes a raw record. Returning false drops the record.
	PostProcess(raw Record) (Record, bool)
}

// Base holds the defaults shared by every stream kind.
type Base struct {
	name        string
	path        string
	recordsPath string
	primaryKeys []string
	schema      Schema
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Path() string          { return b.path }
func (b *Base) RecordsPath() string   { return b.recordsPath }
func (b *Base) PrimaryKeys() []string { return b.primaryKeys }
func (b *Base) Schema() Schema        { return b.schema }

// BuildParams passes continuation parameters through from the token and
// sends nothing on the first page.
func (b *Base) BuildParams(token *url.URL) Params {
	if token != nil {
		return ParamsFromURL(token)
	}
	return Params{}
}

// PostProcess passes the record through unchanged.
func (b *Base) PostProcess(raw Record) (Record, bool) {
	return raw, true
}

func newBase(name, pathTemplate, recordsPath string, org string, schema Schema) Base {
	if recordsPath == "" {
		recordsPath = "$[*]"
	}
	return Base{
		name:        name,
		path:        strings.ReplaceAll(pathTemplate, "{organization_id_or_slug}", url.PathEscape(org)),
		recordsPath: recordsPath,
		primaryKeys: []string{"id"},
		schema:      schema,
	}
}

// Factory builds a stream kind from run settings.
type Factory func(Settings) Stream

var kinds = map[string]Factory{
	EventsName: func(s Settings) Stream { return NewEvents(s) },
	IssuesName: func(s Settings) Stream { return NewIssues(s) },
}

// Names returns the known stream names, sorted.
func Names() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named stream.
func New(name string, s Settings) (Stream, error) {
	factory, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown stream %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(s), nil
}

// All builds every known stream in name order.
func All(s Settings) []Stream {
	streams := make([]Stream, 0, len(kinds))
	for _, name := range Names() {
		streams = append(streams, kinds[name](s))
	}
	return streams
}
