// Package formdata decodes multipart/form-data request bodies that were read
// into memory by the wire codec.
package formdata

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const defaultFileContentType = "application/octet-stream"

var (
	// ErrMissingBoundary is returned when the content type carries no boundary.
	ErrMissingBoundary = errors.New("multipart boundary missing")
	// ErrMalformed is returned for bodies that cannot be split into parts.
	ErrMalformed = errors.New("malformed multipart body")
)

// Part is one field of a multipart form.
type Part struct {
	Name        string
	Filename    string
	HasFilename bool // distinguishes a file field from a plain field
	ContentType string
	Header      map[string]string
	Body        []byte
}

// Form holds decoded parts in arrival order.
type Form struct {
	parts  []*Part
	byName map[string]*Part
}

// Len returns the number of decoded parts.
func (f *Form) Len() int {
	return len(f.parts)
}

// File returns the last part named name if it carries a filename.
func (f *Form) File(name string) (*Part, bool) {
	p, ok := f.byName[name]
	if !ok || !p.HasFilename {
		return nil, false
	}
	return p, true
}

func (f *Form) add(p *Part) {
	f.parts = append(f.parts, p)
	f.byName[p.Name] = p
}

// Boundary extracts the boundary parameter from a multipart/form-data
// content type.
func Boundary(contentType string) (string, error) {
	mediaType, params := splitParams(contentType)
	if !strings.EqualFold(mediaType, "multipart/form-data") {
		return "", fmt.Errorf("%w: content type %q is not multipart/form-data", ErrMissingBoundary, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", ErrMissingBoundary
	}
	return boundary, nil
}

// Parse splits body into parts delimited by "--"+boundary. Both CRLF and
// bare LF line endings are accepted. An empty body yields an empty form.
func Parse(body []byte, boundary string) (*Form, error) {
	if boundary == "" {
		return nil, ErrMissingBoundary
	}
	form := &Form{byName: make(map[string]*Part)}
	if len(bytes.TrimSpace(body)) == 0 {
		return form, nil
	}

	delim := []byte("--" + boundary)
	start := bytes.Index(body, delim)
	if start < 0 {
		return nil, fmt.Errorf("%w: no delimiter found", ErrMalformed)
	}
	// Everything before the first delimiter is preamble.
	rest := body[start+len(delim):]
	nextDelim := append([]byte("\n"), delim...)
	for {
		if bytes.HasPrefix(rest, []byte("--")) {
			return form, nil
		}
		rest = skipLineEnd(rest)
		end := bytes.Index(rest, nextDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: missing closing delimiter", ErrMalformed)
		}
		raw := bytes.TrimSuffix(rest[:end], []byte("\r"))
		rest = rest[end+len(nextDelim):]
		if len(raw) == 0 {
			continue
		}
		part, err := parsePart(raw)
		if err != nil {
			return nil, err
		}
		form.add(part)
	}
}

// skipLineEnd drops transport padding and the line break after a delimiter.
func skipLineEnd(b []byte) []byte {
	b = bytes.TrimLeft(b, " \t")
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return b[2:]
	}
	if bytes.HasPrefix(b, []byte("\n")) {
		return b[1:]
	}
	return b
}

func parsePart(raw []byte) (*Part, error) {
	head, body, err := splitHead(raw)
	if err != nil {
		return nil, err
	}
	header := make(map[string]string)
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad part header %q", ErrMalformed, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, seen := header[key]; !seen {
			header[key] = strings.TrimSpace(value)
		}
	}

	disposition, params := splitParams(header["content-disposition"])
	if !strings.EqualFold(disposition, "form-data") {
		return nil, fmt.Errorf("%w: content-disposition %q", ErrMalformed, disposition)
	}
	name, ok := params["name"]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: part without a name", ErrMalformed)
	}
	part := &Part{
		Name:   name,
		Header: header,
		Body:   body,
	}
	if filename, ok := params["filename"]; ok {
		part.Filename = filename
		part.HasFilename = true
		part.ContentType = header["content-type"]
		if part.ContentType == "" {
			part.ContentType = defaultFileContentType
		}
	} else {
		part.ContentType = header["content-type"]
	}
	return part, nil
}

// splitHead separates part headers from the body at the first blank line.
func splitHead(raw []byte) (head, body []byte, err error) {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:], nil
	case lf >= 0:
		return raw[:lf], raw[lf+2:], nil
	}
	// A part with headers and no body at all.
	if bytes.HasPrefix(bytes.ToLower(raw), []byte("content-")) {
		return raw, []byte{}, nil
	}
	return nil, nil, fmt.Errorf("%w: part has no header block", ErrMalformed)
}

// splitParams parses `value; key=val; key="quoted; val"` header values.
// Keys are lower-cased. Quoted values keep backslashes literally except
// before a quote, since browsers send raw Windows paths as filenames.
func splitParams(s string) (string, map[string]string) {
	params := make(map[string]string)
	value, rest, _ := strings.Cut(s, ";")
	value = strings.TrimSpace(value)
	for {
		rest = strings.TrimLeft(rest, " \t;")
		if rest == "" {
			return value, params
		}
		eq := strings.IndexAny(rest, "=;")
		if eq < 0 || rest[eq] == ';' {
			// bare token without a value
			if eq < 0 {
				return value, params
			}
			rest = rest[eq+1:]
			continue
		}
		key := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = strings.TrimLeft(rest[eq+1:], " \t")
		var val string
		if strings.HasPrefix(rest, `"`) {
			val, rest = readQuoted(rest[1:])
		} else {
			end := strings.IndexByte(rest, ';')
			if end < 0 {
				end = len(rest)
			}
			val = strings.TrimSpace(rest[:end])
			rest = rest[end:]
		}
		if _, seen := params[key]; !seen && key != "" {
			params[key] = val
		}
	}
}

func readQuoted(s string) (string, string) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == '"':
			b.WriteByte('"')
			i++
		case c == '"':
			return b.String(), s[i+1:]
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), ""
}
