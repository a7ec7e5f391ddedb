// Package query parses the URL parameters of the gateway query endpoint.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
)

const wherePrefix = "where."

// Null matches a missing value in a where parameter
const Null = "null"

// Parse builds the store query and expand list from ?where.<prop>=a,b,
// ?orderby=a,-b, ?limit, ?offset and ?expand. Filter values stay strings;
// the gateway coerces them against the entity type.
func Parse(values url.Values) (store.Query, []string, error) {
	var q store.Query

	where, err := ParseWhere(values)
	if err != nil {
		return q, nil, err
	}
	q.Where = where
	q.OrderBy = ParseOrderBy(values.Get("orderby"))

	if q.Limit, err = parseCount(values, "limit"); err != nil {
		return q, nil, err
	}
	if q.Offset, err = parseCount(values, "offset"); err != nil {
		return q, nil, err
	}
	return q, ParseExpand(values.Get("expand")), nil
}

// ParseWhere collects where.<prop> parameters in property order. Repeated
// parameters and comma lists both widen the match.
func ParseWhere(values url.Values) ([]store.Predicate, error) {
	var props []string
	for key := range values {
		if strings.HasPrefix(key, wherePrefix) {
			props = append(props, key)
		}
	}
	sort.Strings(props)

	preds := make([]store.Predicate, 0, len(props))
	for _, key := range props {
		prop := strings.TrimPrefix(key, wherePrefix)
		if prop == "" {
			return nil, fmt.Errorf("where parameter without a property")
		}
		p := store.Predicate{Property: prop}
		for _, raw := range values[key] {
			for _, v := range splitList(raw) {
				if v == Null {
					p.Values = append(p.Values, nil)
				} else {
					p.Values = append(p.Values, v)
				}
			}
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// ParseOrderBy parses "a,-b"; the "-" prefix sorts descending
func ParseOrderBy(raw string) []store.Order {
	var out []store.Order
	for _, part := range splitList(raw) {
		if name, desc := strings.CutPrefix(part, "-"); desc {
			out = append(out, store.Order{Property: name, Descending: true})
		} else {
			out = append(out, store.Order{Property: part})
		}
	}
	return out
}

// ParseExpand parses "Orders,Orders.Details"
func ParseExpand(raw string) []string {
	return splitList(raw)
}

func parseCount(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
