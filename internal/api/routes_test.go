package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keagan/reelforge/internal/compiler"
	"github.com/keagan/reelforge/internal/hwaccel"
	"github.com/keagan/reelforge/internal/pipeline"
	"github.com/keagan/reelforge/internal/queue"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/rs/zerolog"
)

type fakeRenderer struct {
	mu        sync.Mutex
	jobs      map[string]pipeline.Job
	subs      map[string][]func(pipeline.Job)
	submitErr error
	inv       *compiler.Invocation
	vendor    hwaccel.Vendor
	probed    bool
	submitted []*timeline.Composition
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		jobs: make(map[string]pipeline.Job),
		subs: make(map[string][]func(pipeline.Job)),
	}
}

func (f *fakeRenderer) Submit(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, comp)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	f.jobs[id] = pipeline.Job{ID: id, Status: queue.StatusQueued, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeRenderer) Compile(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (*compiler.Invocation, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.inv, nil
}

func (f *fakeRenderer) Status(id string) (pipeline.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeRenderer) Jobs() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pipeline.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeRenderer) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status.Terminal() {
		return false
	}
	j.Status = queue.StatusCancelled
	f.jobs[id] = j
	return true
}

func (f *fakeRenderer) SubscribeProgress(id string, fn func(pipeline.Job)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return nil, queue.ErrNotFound
	}
	f.subs[id] = append(f.subs[id], fn)
	return func() {}, nil
}

func (f *fakeRenderer) HWAccel() (hwaccel.Vendor, bool) {
	return f.vendor, f.probed
}

// set replaces a job and notifies its subscribers
func (f *fakeRenderer) set(job pipeline.Job) {
	f.mu.Lock()
	f.jobs[job.ID] = job
	subs := append([]func(pipeline.Job){}, f.subs[job.ID]...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(job)
	}
}

func (f *fakeRenderer) subscribers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}

func testRouter(f *fakeRenderer) http.Handler {
	return NewRouter(ServerConfig{
		Renderer:  f,
		Logger:    zerolog.Nop(),
		StartTime: time.Now().Add(-time.Minute),
		Version:   "test",
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, r))
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

const renderBody = `{
  "composition": {
    "clips": [{"kind": "content", "asset": "clip", "duration": 4}],
    "output_path": "/out/a.mp4"
  },
  "options": {"use_hardware_acceleration": true}
}`

func TestHealthHandler(t *testing.T) {
	f := newFakeRenderer()
	rr := do(t, testRouter(f), http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if up, _ := body["uptime_s"].(float64); up < 60 {
		t.Fatalf("uptime_s = %v, want >= 60", body["uptime_s"])
	}
	if _, ok := body["hwaccel"]; ok {
		t.Fatal("hwaccel should be omitted before detection")
	}

	f.vendor, f.probed = hwaccel.NVENC, true
	body = decodeJSONBody(t, do(t, testRouter(f), http.MethodGet, "/health", ""))
	if body["hwaccel"] != "nvenc" {
		t.Fatalf("hwaccel = %v, want nvenc", body["hwaccel"])
	}
}

func TestSubmitHandler(t *testing.T) {
	f := newFakeRenderer()
	rr := do(t, testRouter(f), http.MethodPost, "/renders", renderBody)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["job_id"] != "job-1" {
		t.Fatalf("job_id = %v, want job-1", body["job_id"])
	}
	if loc := rr.Header().Get("Location"); loc != "/renders/job-1" {
		t.Fatalf("Location = %q, want /renders/job-1", loc)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header missing")
	}

	comp := f.submitted[0]
	if len(comp.Clips) != 1 || comp.Clips[0].Kind != timeline.KindContent || comp.Clips[0].Duration != 4 {
		t.Fatalf("unexpected composition %+v", comp)
	}
}

func TestSubmitHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed", "{", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"no composition", `{"options": {}}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"invalid", renderBody, &timeline.ConfigurationError{Field: "clips[0].duration", Reason: "must be positive"}, http.StatusUnprocessableEntity, "INVALID_COMPOSITION"},
		{"duplicate", renderBody, fmt.Errorf("failed to queue render: %w", queue.ErrDuplicate), http.StatusConflict, "CONFLICT"},
		{"closed", renderBody, queue.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRenderer()
			f.submitErr = tt.err
			rr := do(t, testRouter(f), http.MethodPost, "/renders", tt.body)

			if rr.Code != tt.status {
				t.Fatalf("status code = %d, want %d", rr.Code, tt.status)
			}
			if body := decodeJSONBody(t, rr); body["code"] != tt.code {
				t.Fatalf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

func TestRenderLookupHandlers(t *testing.T) {
	f := newFakeRenderer()
	f.set(pipeline.Job{ID: "a", Status: queue.StatusProcessing, Progress: 40, Stage: "encoding", ETA: 3 * time.Second})
	h := testRouter(f)

	rr := do(t, h, http.MethodGet, "/renders/a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "processing" || body["progress"] != float64(40) || body["eta_s"] != float64(3) {
		t.Fatalf("unexpected job body %v", body)
	}

	if rr := do(t, h, http.MethodGet, "/renders/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = do(t, h, http.MethodGet, "/renders", "")
	var list JobsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != "a" {
		t.Fatalf("jobs = %+v, want [a]", list.Jobs)
	}
}

func TestCancelHandler(t *testing.T) {
	f := newFakeRenderer()
	f.set(pipeline.Job{ID: "a", Status: queue.StatusQueued})
	h := testRouter(f)

	if rr := do(t, h, http.MethodDelete, "/renders/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}

	body := decodeJSONBody(t, do(t, h, http.MethodDelete, "/renders/a", ""))
	if body["cancelled"] != true {
		t.Fatalf("cancelled = %v, want true", body["cancelled"])
	}
	body = decodeJSONBody(t, do(t, h, http.MethodDelete, "/renders/a", ""))
	if body["cancelled"] != false {
		t.Fatalf("second cancel = %v, want false", body["cancelled"])
	}
}

func TestCompileHandler(t *testing.T) {
	f := newFakeRenderer()
	f.inv = &compiler.Invocation{
		Inputs:     []compiler.Input{{Path: "/media/clip.mp4"}},
		Graph:      []compiler.Node{{Inputs: []string{"0:v"}, Filter: "null", Outputs: []string{"m0"}}},
		VideoLabel: "m0",
		Encoding:   compiler.Encoding{VideoCodec: "libx264"},
		Duration:   4,
		OutputPath: "/out/a.mp4",
	}

	rr := do(t, testRouter(f), http.MethodPost, "/compile", renderBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp CompileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.FilterComplex != "[0:v]null[m0]" {
		t.Fatalf("filter_complex = %q", resp.FilterComplex)
	}
	if resp.Duration != 4 {
		t.Fatalf("duration = %v, want 4", resp.Duration)
	}
	if resp.Args[len(resp.Args)-1] != "/out/a.mp4" {
		t.Fatalf("last arg = %q, want the output path", resp.Args[len(resp.Args)-1])
	}
	if len(f.submitted) != 0 {
		t.Fatal("compile must not submit a job")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := do(t, testRouter(newFakeRenderer()), http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "reelforge_jobs_active") {
		t.Fatal("reelforge collectors missing from /metrics")
	}
}

func TestRenderEventsHandler(t *testing.T) {
	f := newFakeRenderer()
	f.set(pipeline.Job{ID: "a", Status: queue.StatusProcessing, Progress: 10})
	srv := httptest.NewServer(testRouter(f))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/renders/a/events")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	events := readEvents(resp.Body)
	first := <-events
	if first.name != "progress" || first.job.Progress != 10 {
		t.Fatalf("first event = %+v, want progress at 10", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.subscribers("a") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.set(pipeline.Job{ID: "a", Status: queue.StatusCompleted, Progress: 100, Result: "/out/a.mp4"})

	var last sseEvent
	for ev := range events {
		last = ev
	}
	if last.name != "done" || last.job.Status != "completed" || last.job.Result != "/out/a.mp4" {
		t.Fatalf("last event = %+v, want done with the result", last)
	}
}

func TestRenderEventsHandler_NotFound(t *testing.T) {
	rr := do(t, testRouter(newFakeRenderer()), http.MethodGet, "/renders/missing/events", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

type sseEvent struct {
	name string
	job  JobResponse
}

func readEvents(r io.Reader) <-chan sseEvent {
	out := make(chan sseEvent)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.job)
			case line == "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "INTERNAL_ERROR" {
		t.Fatalf("code = %v, want INTERNAL_ERROR", body["code"])
	}
}

func TestRequestIDMiddleware_KeepsCallerID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "abc123" || rr.Header().Get("X-Request-ID") != "abc123" {
		t.Fatalf("request id = %q / %q, want abc123", seen, rr.Header().Get("X-Request-ID"))
	}
}
