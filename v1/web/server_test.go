package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamanmiglani/Image-to-text/v1/activity"
	"github.com/iamanmiglani/Image-to-text/v1/cache"
	"github.com/iamanmiglani/Image-to-text/v1/core"
	"github.com/iamanmiglani/Image-to-text/v1/document"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/lease"
	"github.com/iamanmiglani/Image-to-text/v1/ocr"
	"github.com/iamanmiglani/Image-to-text/v1/queue"
	"github.com/iamanmiglani/Image-to-text/v1/render"
	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

type extractFunc func(ctx context.Context, inputs []ocr.Input) (*document.Document, error)

func (f extractFunc) Extract(ctx context.Context, inputs []ocr.Input) (*document.Document, error) {
	return f(ctx, inputs)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	coord := turn.New(
		lease.NewInMemory(),
		activity.NewInMemory(),
		activity.NewInMemory(activity.WithScope("presence")),
		turn.WithQueue(queue.NewInMemory()),
		turn.WithRetryDelay(0),
	)
	artifacts := cache.NewInMemory[render.File](cache.WithSweepInterval[render.File](0))
	t.Cleanup(artifacts.Close)
	ex := extractFunc(func(ctx context.Context, inputs []ocr.Input) (*document.Document, error) {
		doc := document.New()
		for _, in := range inputs {
			doc.Add(in.Name, []string{"hello from " + in.Name})
		}
		return doc, nil
	})
	app := core.New(coord, ex, artifacts)
	srv := httptest.NewServer(New(app, WithGatherer(prometheus.NewRegistry()), WithHeartbeat(50*time.Millisecond)))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(req *http.Request, into any) int {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			c.t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp.StatusCode
}

func (c *client) post(path string, body any, into any) int {
	c.t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, c.base+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, into)
}

func (c *client) upload(into any, files map[string]string) int {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, ct := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, UploadField, name))
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			c.t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("image bytes of " + name))
	}
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, c.base+"/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, into)
}

func TestFullFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)

	var poll pollView
	if code := alice.post("/api/poll", nil, &poll); code != http.StatusOK || poll.Decision != "proceed" {
		t.Fatalf("poll: %d %+v", code, poll)
	}
	if poll.Session.State != "awaiting_upload" {
		t.Fatalf("expected awaiting_upload, got %s", poll.Session.State)
	}

	var view sessionView
	if code := alice.upload(&view, map[string]string{"a.png": "image/png", "b.jpg": "image/jpeg"}); code != http.StatusOK {
		t.Fatalf("upload: %d", code)
	}
	if view.State != "awaiting_format" || len(view.Pages) != 2 {
		t.Fatalf("unexpected view after upload %+v", view)
	}
	if code := alice.post("/api/format", map[string]string{"format": "pdf"}, &view); code != http.StatusOK || view.Format != "pdf" {
		t.Fatalf("format: %d %+v", code, view)
	}
	if code := alice.post("/api/generate", nil, &view); code != http.StatusOK || view.State != "awaiting_download" {
		t.Fatalf("generate: %d %+v", code, view)
	}
	if view.Artifact == nil || view.Artifact.FileName != "extracted_text.pdf" {
		t.Fatalf("unexpected artifact %+v", view.Artifact)
	}

	resp, err := alice.http.Get(srv.URL + "/api/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("download: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "extracted_text.pdf") || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("unexpected download %q", resp.Header.Get("Content-Disposition"))
	}

	var failed errorBody
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/download", nil)
	if code := alice.do(req, &failed); code != http.StatusConflict {
		t.Fatalf("second download should conflict, got %d", code)
	}

	if code := alice.post("/api/reset", nil, &view); code != http.StatusOK || view.State != "awaiting_turn" {
		t.Fatalf("reset: %d %+v", code, view)
	}
	if code := alice.post("/api/poll", nil, &poll); code != http.StatusOK || poll.Decision != "proceed" {
		t.Fatalf("poll after reset: %d %+v", code, poll)
	}
}

func TestSecondVisitorWaits(t *testing.T) {
	srv := newTestServer(t)
	alice, bob := newClient(t, srv), newClient(t, srv)

	var poll pollView
	alice.post("/api/poll", nil, &poll)
	if code := bob.post("/api/poll", nil, &poll); code != http.StatusOK {
		t.Fatalf("poll: %d", code)
	}
	if poll.Decision != "wait" || poll.Position == nil || *poll.Position != 0 {
		t.Fatalf("bob should wait at the front, got %+v", poll)
	}
	var failed errorBody
	if code := bob.upload(&failed, map[string]string{"a.png": "image/png"}); code != http.StatusConflict {
		t.Fatalf("upload without the turn should conflict, got %d", code)
	}
	if failed.Session == nil || failed.Session.State != "awaiting_turn" {
		t.Fatalf("error should carry the session, got %+v", failed)
	}
}

func TestUploadRejections(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)
	alice.post("/api/poll", nil, nil)

	var failed errorBody
	if code := alice.upload(&failed, map[string]string{"doc.pdf": "application/pdf"}); code != http.StatusUnprocessableEntity {
		t.Fatalf("pdf upload should be rejected, got %d", code)
	}
	many := map[string]string{}
	for i := 0; i <= session.MaxFiles; i++ {
		many[fmt.Sprintf("img%02d.png", i)] = "image/png"
	}
	if code := alice.upload(&failed, many); code != http.StatusUnprocessableEntity {
		t.Fatalf("too many files should be rejected, got %d", code)
	}
	if code := alice.upload(&failed, map[string]string{}); code != http.StatusUnprocessableEntity {
		t.Fatalf("empty upload should be rejected, got %d", code)
	}
}

func TestExitForgetsParticipant(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)
	var poll pollView
	alice.post("/api/poll", nil, &poll)
	first := poll.Session.Participant

	alice.upload(nil, map[string]string{"a.png": "image/png"})
	alice.post("/api/generate", map[string]string{"format": "word"}, nil)
	resp, err := alice.http.Get(srv.URL + "/api/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	resp.Body.Close()

	var view sessionView
	if code := alice.post("/api/exit", nil, &view); code != http.StatusOK || view.State != "terminated" {
		t.Fatalf("exit: %d %+v", code, view)
	}
	alice.post("/api/poll", nil, &poll)
	if poll.Session.Participant == first {
		t.Fatal("a new participant id should be issued after exit")
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)
	var view sessionView
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/session", nil)
	if code := alice.do(req, &view); code != http.StatusOK || view.State != "awaiting_turn" || view.Participant == "" {
		t.Fatalf("session: %d %+v", code, view)
	}
}

func TestEventsWebSocket(t *testing.T) {
	srv := newTestServer(t)
	alice, bob := newClient(t, srv), newClient(t, srv)
	alice.post("/api/poll", nil, nil)
	bob.post("/api/poll", nil, nil)

	dialer := websocket.Dialer{Jar: bob.http.Jar}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() pollView {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var v pollView
		if err := json.Unmarshal(msg, &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return v
	}
	if v := read(); v.Decision != "wait" {
		t.Fatalf("expected wait, got %+v", v)
	}

	// alice finishes and exits; the turn change reaches bob's stream.
	alice.upload(nil, map[string]string{"a.png": "image/png"})
	alice.post("/api/generate", map[string]string{"format": "word"}, nil)
	resp, err := alice.http.Get(srv.URL + "/api/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	resp.Body.Close()
	alice.post("/api/exit", nil, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := read(); v.Decision == "proceed" {
			return
		}
	}
	t.Fatal("bob was never told to proceed")
}

func TestEventStreamSSE(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/stream", nil)
	resp, err := alice.http.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}
	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(buf[:n])
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"decision":"proceed"`) {
		t.Fatalf("unexpected event %q", line)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrTooManyFiles, http.StatusUnprocessableEntity},
		{&session.TransitionError{Action: "upload", From: session.AwaitingTurn}, http.StatusConflict},
		{fmt.Errorf("%w: busy", turnerrors.ErrContention), http.StatusConflict},
		{core.ErrSessionEnded, http.StatusGone},
		{turn.ErrLeaseLost, http.StatusGone},
		{ocr.ErrEngine, http.StatusBadGateway},
		{render.ErrRender, http.StatusBadGateway},
		{fmt.Errorf("%w: redis down", turnerrors.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{turnerrors.ErrTimeout, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
