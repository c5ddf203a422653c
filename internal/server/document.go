package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// maxDocumentBytes bounds an uploaded replacement book.
const maxDocumentBytes = 256 << 20

// handleGetDocument reports the currently ingested document.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if !s.store.Ready() {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no document ingested"})
		return
	}
	writeJSON(w, http.StatusOK, s.store.Document())
}

// handlePutDocument replaces the reference book and reindexes it. The body
// is either multipart form data with a "file" part or the raw document with
// its name in the ?name= query parameter.
func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	name, payload, size, contentType, err := documentPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	defer payload.Close()

	if err := s.ingester.Replace(r.Context(), name, payload, size, contentType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "document replaced",
		"document": s.store.Document(),
	})
}

func documentPayload(r *http.Request) (name string, payload io.ReadCloser, size int64, contentType string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
			return "", nil, 0, "", fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, 0, "", fmt.Errorf("multipart request needs a file part")
		}
		return sanitizeName(header.Filename), file, header.Size, header.Header.Get("Content-Type"), nil
	}

	name = sanitizeName(r.URL.Query().Get("name"))
	if name == "" {
		return "", nil, 0, "", fmt.Errorf("raw upload needs a name query parameter")
	}
	body := http.MaxBytesReader(nil, r.Body, maxDocumentBytes)
	return name, body, r.ContentLength, r.Header.Get("Content-Type"), nil
}

// sanitizeName strips any path components from an uploaded filename.
func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
