package server

import (
	"net/http"

	"github.com/sheerbytes/once/internal/transfer"
	"github.com/sheerbytes/once/internal/wire"
)

const uploadFormHTML = `<!DOCTYPE html>
<html><head><title>Upload a file</title></head>
<body>
<h1>Upload a file</h1>
<form method="POST" action="/" enctype="multipart/form-data">
<input type="file" name="` + transfer.UploadField + `">
<input type="submit" value="Upload">
</form>
</body></html>
`

func uploadFormPage() wire.Response {
	return wire.HTMLResponse(http.StatusOK, uploadFormHTML)
}
