package query

import (
	"fmt"
	"strings"

	"github.com/KevoDB/prevterm/pkg/termdict"
)

// Direction selects which side of the starting key a query walks
type Direction string

const (
	// Previous walks toward smaller keys, nearest first
	Previous Direction = "previous"
	// Next walks toward larger keys
	Next Direction = "next"
)

// DefaultDirection applies when a request names none
const DefaultDirection = Previous

// ParseDirection accepts previous or next in any case. An empty string
// yields DefaultDirection.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultDirection, nil
	case string(Previous):
		return Previous, nil
	case string(Next):
		return Next, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", termdict.ErrInvalidArgument, s)
	}
}

// ParseFields splits a field list on ',', ';' or '-', dropping blanks
func ParseFields(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '-'
	})
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

// Request is one range query
type Request struct {
	Index string `json:"index"`
	Init  string `json:"init"`
	// Fields are searched together as one merged stream
	Fields []string `json:"fields"`
	// Direction defaults to previous
	Direction Direction `json:"direction,omitempty"`
	// MaxTerms defaults to the service maximum when nil
	MaxTerms *int `json:"maxTerms,omitempty"`
	// ExcludeInit leaves an existing init key out of previous results
	ExcludeInit bool `json:"excludeInit,omitempty"`
	// Clean hides keys that are not made of letters, digits and spaces
	Clean bool `json:"cleanTokens,omitempty"`
}

// Response echoes the resolved parameters with the terms found. Its JSON
// form is the historical six-field object.
type Response struct {
	Index     string    `json:"index"`
	Init      string    `json:"init"`
	Direction Direction `json:"direction"`
	MaxTerms  int       `json:"maxTerms"`
	Fields    []string  `json:"fields"`
	Terms     []string  `json:"terms"`

	// Degraded marks previous results cut short by the resolver retry
	// budget; such terms are real keys but may skip some
	Degraded bool `json:"-"`
}

// Terms returns a pointer to n, for Request.MaxTerms
func Terms(n int) *int {
	return &n
}
