package stream

import (
	"bytes"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromURL_RoundTrip(t *testing.T) {
	token, err := url.Parse("https://sentry.io/api/0/organizations/acme/events/?a=1&b=2&b=3")
	require.NoError(t, err)

	params := ParamsFromURL(token)

	require.Len(t, params, 2)
	assert.False(t, params["a"].IsList())
	assert.Equal(t, "1", params["a"].String())
	assert.True(t, params["b"].IsList())
	assert.Equal(t, []string{"2", "3"}, params["b"].Strings())
}

func TestParamsFromURL_KeepsSentryCursor(t *testing.T) {
	token, err := url.Parse("/api/0/organizations/acme/events/?cursor=1700000000000%3A0%3A0&field=id&field=timestamp&sort=-timestamp")
	require.NoError(t, err)

	params := ParamsFromURL(token)

	assert.Equal(t, "1700000000000:0:0", params["cursor"].String())
	assert.Equal(t, []string{"id", "timestamp"}, params["field"].Strings())
	assert.Equal(t, "-timestamp", params["sort"].String())
}

func TestParamsFromURL_Nil(t *testing.T) {
	assert.Empty(t, ParamsFromURL(nil))
}

func TestParams_Values(t *testing.T) {
	params := Params{
		"field": List("title", "id"),
		"sort":  Scalar("-timestamp"),
	}

	values := params.Values()

	assert.Equal(t, []string{"title", "id"}, values["field"])
	assert.Equal(t, "-timestamp", values.Get("sort"))
	assert.Equal(t, "field=title&field=id&sort=-timestamp", values.Encode())
}

func TestList_CopiesInput(t *testing.T) {
	in := []string{"a", "b"}
	v := List(in...)
	in[0] = "changed"

	assert.Equal(t, []string{"a", "b"}, v.Strings())
}

func TestParams_LogObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	params := Params{
		"field":  List("id"),
		"sort":   Scalar("-timestamp"),
		"cursor": Scalar("0:100:0"),
	}
	logger.Info().Object("params", params).Msg("")

	var line struct {
		Params map[string]any `json:"params"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, []any{"id"}, line.Params["field"], "a one-element list stays a list")
	assert.Equal(t, "-timestamp", line.Params["sort"])
	assert.Equal(t, "0:100:0", line.Params["cursor"])
}
