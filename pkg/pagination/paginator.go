package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tomnomnom/linkheader"
)

// ErrNoNextLink is returned by NextToken when the response has no usable
// next link.
var ErrNoNextLink = errors.New("no next link")

// Paginator inspects a page response.
type Paginator interface {
	// HasMore reports whether another page should be fetched.
	HasMore(resp *http.Response) bool

	// NextToken returns the token for the next page.
	NextToken(resp *http.Response) (*url.URL, error)
}

// LinkHeaderPaginator follows the rel="next" entry of the Link header.
type LinkHeaderPaginator struct{}

// NewLinkHeaderPaginator creates a generic Link header paginator.
func NewLinkHeaderPaginator() *LinkHeaderPaginator {
	return &LinkHeaderPaginator{}
}

// HasMore reports whether a next link exists.
func (p *LinkHeaderPaginator) HasMore(resp *http.Response) bool {
	_, ok := nextLink(resp)
	return ok
}

// NextToken parses the next link's URL, resolved against the request URL
// when it is relative.
func (p *LinkHeaderPaginator) NextToken(resp *http.Response) (*url.URL, error) {
	link, ok := nextLink(resp)
	if !ok || link.URL == "" {
		return nil, ErrNoNextLink
	}
	next, err := url.Parse(link.URL)
	if err != nil {
		return nil, fmt.Errorf("parse next link %q: %w", link.URL, err)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		next = resp.Request.URL.ResolveReference(next)
	}
	return next, nil
}

// SentryPaginator continues only while the next link says results="true".
type SentryPaginator struct {
	LinkHeaderPaginator
}

// NewSentryPaginator creates the paginator for Sentry list endpoints.
func NewSentryPaginator() *SentryPaginator {
	return &SentryPaginator{}
}

// HasMore compares the results attribute as a string. Anything other than
// "true", including a missing header or attribute, ends pagination.
func (p *SentryPaginator) HasMore(resp *http.Response) bool {
	link, ok := nextLink(resp)
	if !ok {
		return false
	}
	return link.Param("results") == "true"
}

func nextLink(resp *http.Response) (linkheader.Link, bool) {
	if resp == nil {
		return linkheader.Link{}, false
	}
	links := linkheader.ParseMultiple(resp.Header.Values("Link")).FilterByRel("next")
	if len(links) == 0 {
		return linkheader.Link{}, false
	}
	return links[0], true
}
