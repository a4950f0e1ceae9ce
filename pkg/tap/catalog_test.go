package tap

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_RoundTrip(t *testing.T) {
	catalog := NewCatalog(stream.All(acme))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(catalog))

	got, err := ReadCatalog(&buf)
	require.NoError(t, err)
	require.Len(t, got.Streams, 2)
	assert.Equal(t, catalog.Streams[1].KeyProperties, got.Streams[1].KeyProperties)
	assert.Equal(t, catalog.Streams[1].Schema.Fields(), got.Streams[1].Schema.Fields())
	assert.Equal(t, []string{"events", "issues"}, got.Selected())
}

func TestNewCatalog_PropertyMetadata(t *testing.T) {
	catalog := NewCatalog([]stream.Stream{stream.NewIssues(acme)})
	require.Len(t, catalog.Streams, 1)

	entry := catalog.Streams[0]
	fields := entry.Schema.Fields()
	require.Len(t, entry.Metadata, len(fields)+1)
	assert.Empty(t, entry.Metadata[0].Breadcrumb)

	inclusion := map[string]any{}
	for _, m := range entry.Metadata[1:] {
		require.Len(t, m.Breadcrumb, 2)
		assert.Equal(t, "properties", m.Breadcrumb[0])
		inclusion[m.Breadcrumb[1]] = m.Metadata["inclusion"]
	}
	assert.Equal(t, "automatic", inclusion["id"])
	assert.Equal(t, "available", inclusion["title"])
	assert.Len(t, inclusion, len(fields))
}

func TestCatalog_Selected(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []string
	}{
		{
			name: "stream level selection",
			json: `{"streams": [
				{"tap_stream_id": "events", "metadata": [{"breadcrumb": [], "metadata": {"selected": false}}]},
				{"tap_stream_id": "issues", "metadata": [{"breadcrumb": [], "metadata": {"selected": true}}]}
			]}`,
			want: []string{"issues"},
		},
		{
			name: "property breadcrumbs are ignored",
			json: `{"streams": [
				{"tap_stream_id": "issues", "metadata": [
					{"breadcrumb": ["properties", "title"], "metadata": {"selected": true}},
					{"breadcrumb": [], "metadata": {"inclusion": "available"}}
				]}
			]}`,
			want: nil,
		},
		{
			name: "duplicates collapse",
			json: `{"streams": [
				{"tap_stream_id": "issues", "metadata": [{"breadcrumb": [], "metadata": {"selected": true}}]},
				{"tap_stream_id": "issues", "metadata": [{"breadcrumb": [], "metadata": {"selected": true}}]}
			]}`,
			want: []string{"issues"},
		},
		{
			name: "no metadata",
			json: `{"streams": [{"tap_stream_id": "events"}]}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ReadCatalog(strings.NewReader(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Selected())
		})
	}
}

func TestReadCatalog_Invalid(t *testing.T) {
	_, err := ReadCatalog(strings.NewReader(`{"streams": [`))
	assert.Error(t, err)
}
