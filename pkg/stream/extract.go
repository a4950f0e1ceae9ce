package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedBody is returned when a response body is not valid JSON.
	ErrMalformedBody = errors.New("malformed response body")

	// ErrUnsupportedPath is returned for JSON paths outside the supported
	// subset ("$", "$[*]", "$.a.b", "$.a.b[*]").
	ErrUnsupportedPath = errors.New("unsupported records path")
)

// Extract locates the record collection in body with a JSON path and
// returns its objects as a lazy sequence. Elements are decoded one at a
// time while the sequence is ranged over; the sequence is meant to be
// consumed once.
//
// A path that matches nothing yields an empty sequence. Non-object elements
// are skipped.
func Extract(body []byte, path string) (iter.Seq[Record], error) {
	gpath, wildcard, err := translatePath(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedBody
	}

	var match gjson.Result
	if gpath == "" {
		match = gjson.ParseBytes(body)
	} else {
		match = gjson.GetBytes(body, gpath)
	}

	return func(yield func(Record) bool) {
		if !wildcard {
			if rec, ok := decodeObject(match); ok {
				yield(rec)
			}
			return
		}
		if !match.IsArray() {
			return
		}
		match.ForEach(func(_, elem gjson.Result) bool {
			rec, ok := decodeObject(elem)
			if !ok {
				return true
			}
			return yield(rec)
		})
	}, nil
}

// translatePath turns a JSONPath expression into a gjson path and reports
// whether it ends in a [*] wildcard.
func translatePath(path string) (string, bool, error) {
	if !strings.HasPrefix(path, "$") {
		return "", false, fmt.Errorf("%w: %q", ErrUnsupportedPath, path)
	}
	rest := strings.TrimPrefix(path, "$")
	wildcard := strings.HasSuffix(rest, "[*]")
	rest = strings.TrimSuffix(rest, "[*]")
	if rest == "" {
		return "", wildcard, nil
	}
	if !strings.HasPrefix(rest, ".") {
		return "", false, fmt.Errorf("%w: %q", ErrUnsupportedPath, path)
	}

	comps := strings.Split(strings.TrimPrefix(rest, "."), ".")
	for i, comp := range comps {
		if comp == "" || strings.ContainsAny(comp, "[]*") {
			return "", false, fmt.Errorf("%w: %q", ErrUnsupportedPath, path)
		}
		comps[i] = gjson.Escape(comp)
	}
	return strings.Join(comps, "."), wildcard, nil
}

func decodeObject(res gjson.Result) (Record, bool) {
	if !res.IsObject() {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(res.Raw))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, false
	}
	return rec, true
}
