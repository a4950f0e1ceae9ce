package tap

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
)

// Catalog is a Singer catalog.
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// CatalogEntry describes one stream.
type CatalogEntry struct {
	TapStreamID   string          `json:"tap_stream_id"`
	Stream        string          `json:"stream"`
	Schema        stream.Schema   `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
	Metadata      []MetadataEntry `json:"metadata"`
}

// MetadataEntry is a Singer metadata item. An empty breadcrumb addresses
// the stream itself.
type MetadataEntry struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// NewCatalog builds a catalog with every stream selected. Each declared
// property gets a metadata entry; key properties are "automatic".
func NewCatalog(streams []stream.Stream) Catalog {
	c := Catalog{Streams: make([]CatalogEntry, 0, len(streams))}
	for _, s := range streams {
		keys := s.PrimaryKeys()
		fields := s.Schema().Fields()

		metadata := make([]MetadataEntry, 0, len(fields)+1)
		metadata = append(metadata, MetadataEntry{
			Breadcrumb: []string{},
			Metadata: map[string]any{
				"selected":             true,
				"inclusion":            "available",
				"table-key-properties": keys,
			},
		})
		for _, field := range fields {
			inclusion := "available"
			if slices.Contains(keys, field) {
				inclusion = "automatic"
			}
			metadata = append(metadata, MetadataEntry{
				Breadcrumb: []string{"properties", field},
				Metadata:   map[string]any{"inclusion": inclusion},
			})
		}

		c.Streams = append(c.Streams, CatalogEntry{
			TapStreamID:   s.Name(),
			Stream:        s.Name(),
			Schema:        s.Schema(),
			KeyProperties: keys,
			Metadata:      metadata,
		})
	}
	return c
}

// ReadCatalog decodes a catalog.
func ReadCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, nil
}

// Selected returns the stream ids whose stream level metadata has
// selected=true, in catalog order.
func (c Catalog) Selected() []string {
	var names []string
	for _, e := range c.Streams {
		if e.selected() && !slices.Contains(names, e.TapStreamID) {
			names = append(names, e.TapStreamID)
		}
	}
	return names
}

func (e CatalogEntry) selected() bool {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		if v, ok := m.Metadata["selected"].(bool); ok {
			return v
		}
	}
	return false
}
