package catalog

import (
	"strings"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

// MatchStatus is the outcome of resolving a card token.
type MatchStatus int

const (
	Matched MatchStatus = iota
	Ambiguous
	Unmatched
)

func (s MatchStatus) String() string {
	switch s {
	case Matched:
		return "Matched"
	case Ambiguous:
		return "Ambiguous"
	case Unmatched:
		return "Unmatched"
	default:
		return "Unknown"
	}
}

// Match is the result of ResolveCard.
type Match struct {
	Status     MatchStatus
	Field      string             // which identifier matched
	Customer   *salesapi.Customer // when Matched
	Candidates []salesapi.Customer
}

// Found reports whether the token identified exactly one customer.
func (m Match) Found() bool {
	return m.Status == Matched && m.Customer != nil
}

// cardFields are checked in order; the first field with any hit wins.
var cardFields = []struct {
	name string
	get  func(salesapi.Customer) string
}{
	{"card_ref_id", func(c salesapi.Customer) string { return c.CardRefID }},
	{"card_number", func(c salesapi.Customer) string { return c.CardNumber }},
	{"rfid_no", func(c salesapi.Customer) string { return c.RFIDNo }},
}

// ResolveCard maps a scanned token to a customer. Scanners append a newline,
// so surrounding whitespace is ignored; comparison is otherwise exact.
func ResolveCard(customers []salesapi.Customer, token string) Match {
	token = strings.TrimSpace(token)
	if token == "" {
		return Match{Status: Unmatched}
	}

	for _, f := range cardFields {
		var hits []salesapi.Customer
		for _, c := range customers {
			if f.get(c) == token {
				hits = append(hits, c)
			}
		}
		switch {
		case len(hits) == 0:
			continue
		case distinctIDs(hits) > 1:
			return Match{Status: Ambiguous, Field: f.name, Candidates: hits}
		default:
			c := hits[0]
			return Match{Status: Matched, Field: f.name, Customer: &c}
		}
	}
	return Match{Status: Unmatched}
}

func distinctIDs(customers []salesapi.Customer) int {
	seen := make(map[int64]bool, len(customers))
	for _, c := range customers {
		seen[c.ID] = true
	}
	return len(seen)
}
