package lookup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giantswarm/idp-lookup/providers"
)

// emptyResult is the body returned when nothing matched
var emptyResult = []byte("{}")

// Result is the outcome of a lookup: the first exactly matching user record,
// passed through as the provider returned it, or nothing.
type Result struct {
	// Record is the matched user record, nil when nothing matched
	Record json.RawMessage

	// Candidates is the number of records the provider returned
	Candidates int
}

// Found reports whether a record matched.
func (r Result) Found() bool {
	return len(r.Record) > 0
}

// MarshalJSON returns the matched record verbatim, or {} when nothing matched.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.Found() {
		return emptyResult, nil
	}
	return r.Record, nil
}

// MatchFirst scans a provider search response in order and returns the first
// record whose q.Attribute is a JSON string equal to q.Value. Comparison is
// case-sensitive without normalization, since provider search may be fuzzy.
//
// The body must be a JSON array; anything else is a ParseError. Elements that
// are not objects never match.
func MatchFirst(body []byte, q Query) (Result, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return Result{}, providers.NewParseError("match", fmt.Errorf("user search response is not a JSON array: %w", err))
	}
	if records == nil {
		return Result{}, providers.NewParseError("match", errors.New("user search response is null, not a JSON array"))
	}

	for _, record := range records {
		if recordMatches(record, q) {
			return Result{Record: record, Candidates: len(records)}, nil
		}
	}

	return Result{Candidates: len(records)}, nil
}

func recordMatches(record json.RawMessage, q Query) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return false
	}

	raw, ok := fields[q.Attribute]
	if !ok {
		return false
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	return value == q.Value
}
