// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pconfig

import (
	"fmt"

	pferrors "grimm.is/postlicyd/internal/errors"
)

// maxTokenLen/maxStringLen bound a single token or string value. The
// source used a fixed scratch buffer for the same purpose; a Go
// rewrite has no fixed buffer to overflow, but an unbounded token is
// almost always a missing terminator, so the limit is kept as a
// sanity check rather than a memory-safety one.
const (
	maxTokenLen  = 128
	maxStringLen = 65536
)

type parser struct {
	data []byte
	pos  int
}

// Parse reads a complete config file from data. It returns the raw
// (unvalidated) declarations; call Build against a filter.Registry to
// check kind/parameter/hook references and produce warnings.
func Parse(data []byte) (*Config, error) {
	p := &parser{data: data}
	cfg := &Config{Globals: make(map[string]string)}

	for {
		p.skipWS()
		if p.atEOF() {
			break
		}

		tokPos := p.pos
		name, err := p.readToken()
		if err != nil {
			return nil, err
		}

		p.skipWS()
		if p.atEOF() {
			return nil, p.errorf(tokPos, "unexpected end of file after token %q", name)
		}

		switch p.data[p.pos] {
		case '=':
			p.pos++
			p.skipWS()
			value, err := p.readString()
			if err != nil {
				return nil, err
			}
			if name == "entry_point" {
				cfg.EntryPoint = value
			} else {
				cfg.Globals[name] = value
			}
		case '{':
			p.pos++
			decl, err := p.readFilterBody(name, tokPos)
			if err != nil {
				return nil, err
			}
			cfg.Filters = append(cfg.Filters, decl)
		default:
			return nil, p.errorf(p.pos, "expected '=' or '{' after token %q, got %q", name, p.data[p.pos])
		}
	}

	return cfg, nil
}

func (p *parser) readFilterBody(name string, declPos int) (*FilterDecl, error) {
	decl := newFilterDecl(name, declPos)
	for {
		p.skipWS()
		if p.atEOF() {
			return nil, p.errorf(p.pos, "unexpected end of file inside filter block %q", name)
		}
		if p.data[p.pos] == '}' {
			p.pos++
			return decl, nil
		}

		key, err := p.readToken()
		if err != nil {
			return nil, err
		}
		p.skipWS()
		if p.atEOF() {
			return nil, p.errorf(p.pos, "unexpected end of file inside filter block %q", name)
		}
		// The formal grammar has no '=' inside a filter body, but the
		// documented example config writes "type = \"iplist\";" the
		// same way a global parameter would. Accept the '=' as
		// optional here so both forms parse.
		if p.data[p.pos] == '=' {
			p.pos++
			p.skipWS()
		}

		value, err := p.readString()
		if err != nil {
			return nil, err
		}

		if key == "type" {
			decl.Type = value
		} else if hookNames[key] {
			decl.Hooks[key] = value
		} else {
			decl.Params[key] = append(decl.Params[key], value)
		}
		p.skipWS()
	}
}

func (p *parser) atEOF() bool { return p.pos >= len(p.data) }

func (p *parser) skipWS() {
	for !p.atEOF() {
		switch p.data[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func isTokenStart(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isTokenCont(c byte) bool {
	return isTokenStart(c) || (c >= '0' && c <= '9') || c == '_'
}

func (p *parser) readToken() (string, error) {
	start := p.pos
	if p.atEOF() || !isTokenStart(p.data[p.pos]) {
		return "", p.errorf(p.pos, "expected a token (identifier)")
	}
	p.pos++
	for !p.atEOF() && isTokenCont(p.data[p.pos]) {
		p.pos++
		if p.pos-start > maxTokenLen {
			return "", p.errorf(start, "token exceeds maximum length %d", maxTokenLen)
		}
	}
	return string(p.data[start:p.pos]), nil
}

// readString dispatches to quoted or bare string parsing depending on
// the next character, and consumes the trailing ';' in both cases.
func (p *parser) readString() (string, error) {
	if p.atEOF() {
		return "", p.errorf(p.pos, "unexpected end of file, expected a string")
	}
	if p.data[p.pos] == '"' {
		return p.readQuotedString()
	}
	return p.readBareString()
}

// readQuotedString implements `('"' chars '"' WS)+ ';'`: one or more
// adjacent quoted segments, concatenated, followed by ';'.
func (p *parser) readQuotedString() (string, error) {
	var out []byte
	for {
		if p.atEOF() || p.data[p.pos] != '"' {
			return "", p.errorf(p.pos, "expected opening '\"'")
		}
		p.pos++
		segStart := p.pos
		for {
			if p.atEOF() {
				return "", p.errorf(segStart, "unexpected end of file inside quoted string")
			}
			c := p.data[p.pos]
			if c == '\n' {
				return "", p.errorf(p.pos, "newline inside quoted string")
			}
			if c == '"' {
				p.pos++
				break
			}
			if c == '\\' {
				if p.pos+1 >= len(p.data) {
					return "", p.errorf(p.pos, "unexpected end of file after '\\' in quoted string")
				}
				out = append(out, p.data[p.pos+1])
				p.pos += 2
			} else {
				out = append(out, c)
				p.pos++
			}
			if len(out) > maxStringLen {
				return "", p.errorf(segStart, "quoted string exceeds maximum length %d", maxStringLen)
			}
		}

		p.skipWS()
		if p.atEOF() {
			return "", p.errorf(p.pos, "unexpected end of file after quoted string")
		}
		switch p.data[p.pos] {
		case '"':
			continue // adjacent quoted segment: concatenate
		case ';':
			p.pos++
			return string(out), nil
		default:
			return "", p.errorf(p.pos, "expected '\"' or ';' after quoted string, got %q", p.data[p.pos])
		}
	}
}

// readBareString implements `(printable except ';','\n')* ';'` with
// the line-continuation escape: `\<CR|LF>` consumes the following
// whitespace run; any other `\x` is preserved literally as `\x`.
func (p *parser) readBareString() (string, error) {
	var out []byte
	start := p.pos
	for {
		if p.atEOF() {
			return "", p.errorf(start, "unexpected end of file inside bare string")
		}
		c := p.data[p.pos]
		switch {
		case c == ';':
			p.pos++
			return string(out), nil
		case c == '\n':
			return "", p.errorf(p.pos, "unterminated bare string (missing ';')")
		case c == '\\':
			if p.pos+1 >= len(p.data) {
				return "", p.errorf(p.pos, "unexpected end of file after '\\' in bare string")
			}
			next := p.data[p.pos+1]
			if next == '\r' || next == '\n' {
				p.pos += 2
				if next == '\r' && !p.atEOF() && p.data[p.pos] == '\n' {
					p.pos++
				}
				for !p.atEOF() && (p.data[p.pos] == ' ' || p.data[p.pos] == '\t') {
					p.pos++
				}
			} else {
				out = append(out, '\\', next)
				p.pos += 2
			}
		default:
			out = append(out, c)
			p.pos++
		}
		if len(out) > maxStringLen {
			return "", p.errorf(start, "bare string exceeds maximum length %d", maxStringLen)
		}
	}
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return pferrors.Attr(pferrors.Errorf(pferrors.KindParseConfig, "config: %s", msg), "position", pos)
}
