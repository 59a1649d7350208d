package lookup

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// DefaultAttributes are the user attributes that may be searched when no
// allow-list is configured.
var DefaultAttributes = []string{"username", "email", "firstName", "lastName"}

// ErrInvalidQuery is returned for a query that cannot be sent to the provider.
var ErrInvalidQuery = errors.New("invalid query")

// maxValueLength bounds the searched value
const maxValueLength = 255

// Query is a single attribute/value pair to look up.
type Query struct {
	Attribute string
	Value     string
}

// NewQuery validates attribute against allowed and returns the query.
// A nil allowed uses DefaultAttributes.
func NewQuery(attribute, value string, allowed []string) (Query, error) {
	if allowed == nil {
		allowed = DefaultAttributes
	}

	switch {
	case attribute == "":
		return Query{}, fmt.Errorf("%w: no search attribute given", ErrInvalidQuery)
	case !slices.Contains(allowed, attribute):
		return Query{}, fmt.Errorf("%w: attribute %q is not searchable", ErrInvalidQuery, attribute)
	case value == "":
		return Query{}, fmt.Errorf("%w: attribute %q has an empty value", ErrInvalidQuery, attribute)
	case len(value) > maxValueLength:
		return Query{}, fmt.Errorf("%w: value exceeds %d characters", ErrInvalidQuery, maxValueLength)
	}

	return Query{Attribute: attribute, Value: value}, nil
}

// ParseQuery builds a query from the first key of a raw URL query string, in
// the order the caller sent the keys. Later pairs are ignored.
func ParseQuery(rawQuery string, allowed []string) (Query, error) {
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if pair == "" {
			continue
		}

		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Query{}, fmt.Errorf("%w: malformed key: %v", ErrInvalidQuery, err)
		}
		if key == "" {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return Query{}, fmt.Errorf("%w: malformed value: %v", ErrInvalidQuery, err)
		}

		return NewQuery(key, value, allowed)
	}

	return Query{}, fmt.Errorf("%w: no search attribute given", ErrInvalidQuery)
}

// Params returns the query as provider search parameters.
func (q Query) Params() url.Values {
	return url.Values{q.Attribute: {q.Value}}
}
