package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/sheerbytes/once/internal/bufpool"
)

const (
	MethodGet  = "GET"
	MethodHead = "HEAD"
	MethodPost = "POST"

	// maxHeadBytes bounds the request line plus header block.
	maxHeadBytes = 64 * 1024
	// bodyPrealloc caps the up-front allocation for a declared body length.
	bodyPrealloc = 64 * 1024
)

// ErrBadRequest matches every *ProtocolError via errors.Is.
var ErrBadRequest = errors.New("bad request")

// ProtocolError reports a request that cannot be parsed. The caller answers
// it with 400 and closes the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "bad request: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrBadRequest
}

func badRequest(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Request is one parsed HTTP/1.x request.
type Request struct {
	Method string
	Target string // raw, still percent-encoded
	Proto  string // e.g. "HTTP/1.0"
	// Header keys are lower-cased. The first occurrence of a key wins.
	Header map[string]string
	Body   []byte
}

// ReadHead reads the request line and the header block up to the empty line.
// It returns io.EOF when the peer closed the connection before sending anything.
func ReadHead(r *bufio.Reader) (*Request, error) {
	budget := maxHeadBytes
	line, err := readLine(r, &budget)
	if err != nil {
		return nil, err
	}
	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}
	for {
		line, err := readLine(r, &budget)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, badRequest("header block not terminated")
			}
			return nil, err
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, badRequest("malformed header line %q", line)
		}
		if _, seen := req.Header[key]; !seen {
			req.Header[key] = strings.TrimSpace(value)
		}
	}
	return req, nil
}

func parseRequestLine(line string) (*Request, error) {
	fields := strings.Split(line, " ")
	if len(fields) != 3 {
		return nil, badRequest("malformed request line %q", line)
	}
	method, target, proto := fields[0], fields[1], fields[2]
	switch method {
	case MethodGet, MethodHead, MethodPost:
	default:
		return nil, badRequest("unsupported method %q", method)
	}
	if target == "" {
		return nil, badRequest("empty request target")
	}
	version, ok := strings.CutPrefix(proto, "HTTP/")
	if !ok || version == "" {
		return nil, badRequest("malformed protocol %q", proto)
	}
	return &Request{
		Method: method,
		Target: target,
		Proto:  proto,
		Header: make(map[string]string),
	}, nil
}

// readLine returns one line without its CR/LF terminator, charging its length
// against budget.
func readLine(r *bufio.Reader, budget *int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		*budget -= len(chunk)
		if *budget < 0 {
			return "", badRequest("request head exceeds %d bytes", maxHeadBytes)
		}
		buf = append(buf, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// ContentLength returns the parsed content-length header, or -1 when absent.
func (req *Request) ContentLength() (int64, error) {
	raw, ok := req.Header["content-length"]
	if !ok {
		return -1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1, badRequest("invalid content-length %q", raw)
	}
	return n, nil
}

// ReadBody reads exactly Content-Length bytes for a POST request. Reads are
// bounded to 64 KiB at a time and partial reads are retried. When the peer
// goes away early, the bytes received so far are kept in Body and the error
// is returned.
func (req *Request) ReadBody(r io.Reader) error {
	if req.Method != MethodPost {
		return nil
	}
	n, err := req.ContentLength()
	if err != nil {
		return err
	}
	if n <= 0 {
		req.Body = []byte{}
		return nil
	}
	body := make([]byte, 0, min(n, bodyPrealloc))
	bp := bufpool.Copies.Get()
	defer bufpool.Copies.Put(bp)
	chunk := *bp
	for int64(len(body)) < n {
		want := min(n-int64(len(body)), int64(len(chunk)))
		got, err := r.Read(chunk[:want])
		body = append(body, chunk[:got]...)
		if int64(len(body)) == n {
			break
		}
		if err != nil {
			req.Body = body
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read body (%d of %d bytes): %w", len(body), n, err)
		}
	}
	req.Body = body
	return nil
}

// ContentType returns the raw content-type header.
func (req *Request) ContentType() string {
	return req.Header["content-type"]
}

// Path returns the percent-decoded path of the target without its query.
// Absolute-form targets ("http://host/p") are reduced to their path.
func (req *Request) Path() string {
	target := req.Target
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if u, err := url.Parse(target); err == nil {
			target = u.EscapedPath()
			if target == "" {
				target = "/"
			}
		}
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	decoded, err := url.PathUnescape(target)
	if err != nil {
		return target
	}
	return decoded
}
