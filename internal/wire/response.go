package wire

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// ServerName is sent in the Server header of every response.
const ServerName = "once/0.1"

// Response describes one HTTP/1.0 response. Exactly one of Body or Stream is
// used; Stream wins when both are set.
type Response struct {
	Status      int
	ContentType string
	// ContentLength is omitted from the headers when negative.
	ContentLength int64
	Header        map[string]string
	Body          []byte
	Stream        func(w io.Writer) error
	// HeadOnly writes the headers and skips the body.
	HeadOnly bool
}

// WriteResponse serializes resp onto w. Connection: close is always sent
// since connections are never reused.
func WriteResponse(w io.Writer, resp Response) error {
	bw := bufio.NewWriterSize(w, 32*1024)
	fmt.Fprintf(bw, "HTTP/1.0 %d %s\r\n", resp.Status, StatusText(resp.Status))
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writeHeader(bw, "Content-Type", contentType)
	if resp.ContentLength >= 0 {
		writeHeader(bw, "Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	extra := map[string]string{
		"Server":     ServerName,
		"Connection": "close",
	}
	for k, v := range resp.Header {
		extra[k] = v
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(bw, k, extra[k])
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	if resp.HeadOnly {
		return flush(bw)
	}
	if resp.Stream != nil {
		if err := flush(bw); err != nil {
			return err
		}
		if err := resp.Stream(bw); err != nil {
			return err
		}
		return flush(bw)
	}
	if len(resp.Body) > 0 {
		if _, err := bw.Write(resp.Body); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
	}
	return flush(bw)
}

func flush(bw *bufio.Writer) error {
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

var headerValueReplacer = strings.NewReplacer("\r", "", "\n", "")

func writeHeader(bw *bufio.Writer, key, value string) {
	bw.WriteString(key)
	bw.WriteString(": ")
	bw.WriteString(headerValueReplacer.Replace(value))
	bw.WriteString("\r\n")
}

// StatusText returns the reason phrase for code.
func StatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Status " + strconv.Itoa(code)
}

// HTMLResponse wraps an HTML document with the right headers.
func HTMLResponse(status int, body string) Response {
	return Response{
		Status:        status,
		ContentType:   "text/html; charset=utf-8",
		ContentLength: int64(len(body)),
		Body:          []byte(body),
	}
}

// ErrorPage builds a small HTML error page for status.
func ErrorPage(status int, message string) Response {
	title := fmt.Sprintf("%d %s", status, StatusText(status))
	body := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>%s</title></head>\n<body><h1>%s</h1>\n<p>%s</p>\n</body></html>\n",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
	return HTMLResponse(status, body)
}

// Redirect builds a 302 pointing at location.
func Redirect(location string) Response {
	body := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>302 Found</title></head>\n<body><a href=\"%s\">%s</a></body></html>\n",
		html.EscapeString(location), html.EscapeString(location))
	resp := HTMLResponse(http.StatusFound, body)
	resp.Header = map[string]string{"Location": location}
	return resp
}

// AttachmentDisposition returns a Content-Disposition value that makes
// browsers save filename instead of rendering it.
func AttachmentDisposition(filename string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(filename)
	return fmt.Sprintf(`attachment; filename="%s"`, escaped)
}
