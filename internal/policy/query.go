// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy implements the MTA policy query wire format: parsing
// a block of "key=value" lines terminated by a blank line into a
// Query, and formatting "${key}" templates back out against one.
package policy

import (
	"bufio"
	"bytes"
	"strings"

	pferrors "grimm.is/postlicyd/internal/errors"
)

// Well-known keys the core consumes directly; any other key is
// stored verbatim and available to Format but not otherwise
// interpreted.
const (
	KeyClientAddress = "client_address"
	KeySender        = "sender"
	KeyRecipient     = "recipient"
	KeyClientName    = "client_name"
	KeyProtocolState = "protocol_state"
)

// Query is a parsed MTA policy request: a set of key/value pairs
// (line order is not kept). Unknown keys are preserved verbatim.
type Query struct {
	values map[string]string
}

// NewQuery returns an empty query, useful for building one
// programmatically (e.g. in tests).
func NewQuery() *Query {
	return &Query{values: make(map[string]string)}
}

// Get returns the value stored for key, or "" if absent.
func (q *Query) Get(key string) string {
	if q == nil {
		return ""
	}
	return q.values[key]
}

// Set stores value under key, overwriting any previous value.
func (q *Query) Set(key, value string) {
	if q.values == nil {
		q.values = make(map[string]string)
	}
	q.values[key] = value
}

// Has reports whether key was present in the parsed query.
func (q *Query) Has(key string) bool {
	_, ok := q.values[key]
	return ok
}

// Parse reads one policy query: lines of "key=value\n", terminated by
// an empty line. Unknown keys are kept verbatim. A line with no '='
// is rejected as a malformed query, fatal to this query only.
func Parse(data []byte) (*Query, error) {
	q := NewQuery()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, pferrors.Errorf(pferrors.KindParseQuery, "policy: malformed line %q: missing '='", line)
		}
		key := line[:idx]
		value := line[idx+1:]
		if key == "" {
			return nil, pferrors.Errorf(pferrors.KindParseQuery, "policy: malformed line %q: empty key", line)
		}
		q.Set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, pferrors.Wrap(err, pferrors.KindParseQuery, "policy: scan query")
	}
	return q, nil
}

// Format substitutes "${key}" occurrences in template with q's
// values (empty string if a key is absent) and "$$" with a literal
// "$". Any other use of '$' is passed through unchanged.
func Format(template string, q *Query) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}
		switch template[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			key := template[i+2 : i+2+end]
			b.WriteString(q.Get(key))
			i += 2 + end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
