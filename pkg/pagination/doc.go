// Package pagination decides whether a list endpoint has another page and
// produces the token for it.
//
// Sentry paginates with RFC 5988 Link headers:
//
//	Link: <https://sentry.io/api/0/organizations/acme/events/?cursor=0:0:1>; rel="previous"; results="false"; cursor="0:0:1",
//	      <https://sentry.io/api/0/organizations/acme/events/?cursor=0:100:0>; rel="next"; results="true"; cursor="0:100:0"
//
// The next link is present on every page, so its presence alone says
// nothing. The results attribute, the literal string "true" or "false",
// governs continuation:
//
//	p := pagination.NewSentryPaginator()
//	if p.HasMore(resp) {
//		token, err := p.NextToken(resp)
//		...
//	}
//
// The token is the parsed next URL. Only its query string is significant;
// the stream turns it back into request parameters.
package pagination
