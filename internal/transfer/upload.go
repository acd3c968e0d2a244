package transfer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"

	"github.com/sheerbytes/once/internal/formdata"
	"github.com/sheerbytes/once/internal/naming"
	"github.com/sheerbytes/once/internal/wire"
)

// UploadField is the form field that must carry the uploaded file.
const UploadField = "upfile"

// ErrNoUploadField is returned when the form has no file in UploadField.
var ErrNoUploadField = errors.New("upload field " + UploadField + " missing")

// UploadJob accepts one multipart upload into Dir.
type UploadJob struct {
	Dir    string
	Logger *slog.Logger
}

// Upload describes a stored upload.
type Upload struct {
	Path     string
	Filename string // as declared by the client
	Bytes    int64
}

// ReceiveUpload reads the body of req from r, stores the uploaded file and
// writes the confirmation or error response to w. Every rejection is also
// returned as an error so the caller can log it.
func ReceiveUpload(ctx context.Context, w io.Writer, r io.Reader, req *wire.Request, job UploadJob) (Upload, error) {
	logger := loggerOr(job.Logger)
	if err := req.ReadBody(r); err != nil {
		if errors.Is(err, wire.ErrBadRequest) {
			_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusBadRequest, err.Error()))
		}
		return Upload{}, fmt.Errorf("read upload body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}

	form, err := decodeForm(req)
	if err != nil {
		_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusBadRequest, err.Error()))
		return Upload{}, err
	}
	logger.Debug("form decoded", "parts", form.Len(), "body_bytes", len(req.Body))
	part, ok := form.File(UploadField)
	if !ok {
		_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusForbidden, "The form has no file in the \""+UploadField+"\" field."))
		return Upload{}, ErrNoUploadField
	}

	name := naming.Sanitize(part.Filename)
	f, path, err := naming.CreateExclusive(job.Dir, name)
	if err != nil {
		_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusInternalServerError, "The upload could not be stored."))
		return Upload{}, err
	}
	n, werr := f.Write(part.Body)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusInternalServerError, "The upload could not be stored."))
		return Upload{}, fmt.Errorf("write %s: %w", path, werr)
	}
	up := Upload{Path: path, Filename: part.Filename, Bytes: int64(n)}
	logger.Info("upload stored", "path", path, "bytes", up.Bytes, "declared_name", part.Filename)

	page := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>Upload complete</title></head>\n<body><h1>Upload complete</h1>\n<p>Stored <code>%s</code> (%d bytes).</p>\n</body></html>\n",
		html.EscapeString(path), up.Bytes)
	if err := wire.WriteResponse(w, wire.HTMLResponse(http.StatusOK, page)); err != nil {
		return up, fmt.Errorf("send upload confirmation: %w", err)
	}
	return up, nil
}

// decodeForm decodes the request body. An empty body is an empty form even
// when the content type carries no boundary.
func decodeForm(req *wire.Request) (*formdata.Form, error) {
	if len(req.Body) == 0 {
		return formdata.Parse(nil, "-")
	}
	boundary, err := formdata.Boundary(req.ContentType())
	if err != nil {
		return nil, err
	}
	return formdata.Parse(req.Body, boundary)
}
