package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/ocr"
	"github.com/iamanmiglani/Image-to-text/v1/session"
)

// UploadField is the multipart field carrying images.
const UploadField = "images"

var errBadRequest = fmt.Errorf("%w: malformed request", turnerrors.ErrValidation)

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	sess, st, err := s.app.Poll(r.Context(), p)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	writeJSON(w, http.StatusOK, pollViewOf(sess, st))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	sess, ok := s.app.Session(p)
	if !ok {
		sess = session.New(p)
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[UploadField]
	files := make([]session.Upload, 0, len(headers))
	for _, h := range headers {
		up, err := readUpload(h)
		if err != nil {
			s.fail(w, r, err, nil)
			return
		}
		files = append(files, up)
	}
	sess, err := s.app.Upload(r.Context(), p, files)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func readUpload(h *multipart.FileHeader) (session.Upload, error) {
	ct := h.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" && !ocr.Accepted(ct) {
		return session.Upload{}, fmt.Errorf("%w: %s is %s", ocr.ErrUnsupportedContainer, h.Filename, ct)
	}
	f, err := h.Open()
	if err != nil {
		return session.Upload{}, fmt.Errorf("%w: open %s: %v", errBadRequest, h.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return session.Upload{}, fmt.Errorf("%w: read %s: %v", errBadRequest, h.Filename, err)
	}
	return session.Upload{Name: h.Filename, ContentType: ct, Data: data}, nil
}

type formatRequest struct {
	Format string `json:"format"`
}

// requestFormat reads the format from a JSON body or the "format" form
// value. An absent format is FormatNone.
func requestFormat(r *http.Request) (session.Format, error) {
	raw := r.FormValue("format")
	if raw == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req formatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return session.FormatNone, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		raw = req.Format
	}
	if raw == "" {
		return session.FormatNone, nil
	}
	return session.ParseFormat(raw)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	f, err := requestFormat(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	sess, err := s.app.SelectFormat(r.Context(), p, f)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	f, err := requestFormat(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	sess, err := s.app.Generate(r.Context(), p, f)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	file, sess, err := s.app.Download(r.Context(), p)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(file.Size()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	sess, err := s.app.Reset(r.Context(), p)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	sess, err := s.app.Exit(r.Context(), p)
	if err != nil {
		s.fail(w, r, err, &sess)
		return
	}
	forget(w)
	writeJSON(w, http.StatusOK, viewOf(sess))
}
