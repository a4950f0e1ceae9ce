package stream

import (
	"maps"
	"net/url"
	"slices"

	"github.com/rs/zerolog"
)

// Value is a query parameter value: either a single string or an ordered
// list of strings sent as a repeated parameter.
type Value struct {
	values []string
	list   bool
}

// Scalar returns a single-valued parameter.
func Scalar(s string) Value {
	return Value{values: []string{s}}
}

// List returns a repeated parameter. The order of vs is kept on the wire.
func List(vs ...string) Value {
	return Value{values: slices.Clone(vs), list: true}
}

// IsList reports whether the value is sent as a repeated parameter.
func (v Value) IsList() bool {
	return v.list
}

// String returns the scalar value, or the first element of a list.
func (v Value) String() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Strings returns a copy of every value in order.
func (v Value) Strings() []string {
	return slices.Clone(v.values)
}

// Params is the set of query parameters for one request. A Params value is
// built fresh per request and is not modified after it is handed to the
// transport.
type Params map[string]Value

// Values converts the parameters into url.Values for the transport.
func (p Params) Values() url.Values {
	out := make(url.Values, len(p))
	for k, v := range p {
		out[k] = v.Strings()
	}
	return out
}

// MarshalZerologObject logs scalars as strings and lists as arrays, keys
// sorted.
func (p Params) MarshalZerologObject(e *zerolog.Event) {
	for _, k := range slices.Sorted(maps.Keys(p)) {
		v := p[k]
		if v.IsList() {
			e.Strs(k, v.values)
			continue
		}
		e.Str(k, v.String())
	}
}

// ParamsFromURL rebuilds request parameters from a page token's query
// string. A parameter seen once becomes a scalar, a repeated one becomes a
// list in its original order. Nothing is added, dropped or reinterpreted.
func ParamsFromURL(token *url.URL) Params {
	if token == nil {
		return Params{}
	}
	query := token.Query()
	params := make(Params, len(query))
	for k, vs := range query {
		if len(vs) == 1 {
			params[k] = Scalar(vs[0])
			continue
		}
		params[k] = List(vs...)
	}
	return params
}
