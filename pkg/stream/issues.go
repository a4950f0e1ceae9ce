package stream

import "net/url"

// IssuesName is the name of the issues stream.
const IssuesName = "issues"

const issuesPath = "/api/0/organizations/{organization_id_or_slug}/issues/"

// Issues syncs the organization's issues. Without a query the API applies
// an implied is:unresolved filter.
type Issues struct {
	Base
	query string
}

// NewIssues builds the issues stream.
func NewIssues(s Settings) *Issues {
	project := ObjectType(map[string]Property{
		"id":   StringType(),
		"name": StringType(),
		"slug": StringType(),
	})
	return &Issues{
		Base: newBase(IssuesName, issuesPath, "$[*]", s.OrganizationID, NewSchema(map[string]Property{
			"lastSeen":            DateTimeType(),
			"numComments":         IntegerType(),
			"userCount":           IntegerType(),
			"culprit":             StringType(),
			"title":               StringType(),
			"id":                  StringType(),
			"assignedTo":          ObjectType(nil),
			"logger":              StringType(),
			"stats":               ObjectType(nil),
			"type":                StringType(),
			"annotations":         ArrayType(StringType()),
			"metadata":            ObjectType(nil),
			"status":              StringType("resolved", "unresolved", "ignored"),
			"subscriptionDetails": ObjectType(nil),
			"isPublic":            BooleanType(),
			"hasSeen":             BooleanType(),
			"shortId":             StringType(),
			"shareId":             StringType(),
			"firstSeen":           StringType(),
			"count":               StringType(),
			"permalink":           StringType(),
			"level":               StringType(),
			"isSubscribed":        BooleanType(),
			"isBookmarked":        BooleanType(),
			"project":             project,
			"statusDetails":       ObjectType(nil),
		})),
		query: s.Query,
	}
}

// BuildParams sends the configured search query on the first page.
func (i *Issues) BuildParams(token *url.URL) Params {
	if token != nil {
		return ParamsFromURL(token)
	}
	if i.query == "" {
		return Params{}
	}
	return Params{"query": Scalar(i.query)}
}
