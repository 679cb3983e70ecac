package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	flow "github.com/Andrej220/go-utils/flow"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	orch := flow.New(flow.Options{Workers: 2, Retention: -1})
	t.Cleanup(orch.Stop)
	ts := httptest.NewServer(newServer(orch).routes())
	t.Cleanup(ts.Close)
	return ts
}

func postYAML(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/pipelines", "application/yaml", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestSubmitAndWait(t *testing.T) {
	ts := newTestServer(t)

	resp := postYAML(t, ts, `
name: release
stages:
  - name: build
    jobs:
      - name: compile
        run: "true"
        timeout: 5s
  - name: deploy
    depends_on: [build]
    jobs:
      - name: rollout
        run: "true"
        timeout: 5s
`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d; want 202", resp.StatusCode)
	}
	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if submitted.ID == "" {
		t.Fatal("submit response has no id")
	}

	waitResp, err := http.Get(ts.URL + "/pipelines/" + submitted.ID + "/wait")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	defer waitResp.Body.Close()
	if waitResp.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d; want 200", waitResp.StatusCode)
	}
	var st flow.PipelineStatus
	if err := json.NewDecoder(waitResp.Body).Decode(&st); err != nil {
		t.Fatalf("decode wait response: %v", err)
	}
	if st.State != "succeeded" {
		t.Fatalf("pipeline state = %q; want succeeded", st.State)
	}
}

func TestSubmitFailingCommandReportsFailure(t *testing.T) {
	ts := newTestServer(t)

	resp := postYAML(t, ts, `
name: broken
stages:
  - name: only
    jobs:
      - name: boom
        run: "exit 3"
        timeout: 5s
`)
	defer resp.Body.Close()
	var submitted struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&submitted)

	waitResp, err := http.Get(ts.URL + "/pipelines/" + submitted.ID + "/wait")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	defer waitResp.Body.Close()
	var st flow.PipelineStatus
	if err := json.NewDecoder(waitResp.Body).Decode(&st); err != nil {
		t.Fatalf("decode wait response: %v", err)
	}
	if st.State != "failed" {
		t.Fatalf("pipeline state = %q; want failed", st.State)
	}
	job := st.Stages[0].Jobs[0]
	if job.State != "abandoned" || !strings.Contains(job.Error, "exit") {
		t.Fatalf("job snapshot = %+v; want abandoned exit failure", job)
	}
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	ts := newTestServer(t)

	cases := map[string]string{
		"not yaml":        `{{{{`,
		"missing timeout": "name: p\nstages:\n  - name: s\n    jobs:\n      - name: j\n        run: \"true\"\n",
		"missing command": "name: p\nstages:\n  - name: s\n    jobs:\n      - name: j\n        timeout: 5s\n",
		"cyclic stages":   "name: p\nstages:\n  - name: a\n    depends_on: [b]\n    jobs:\n      - {name: j, run: \"true\", timeout: 5s}\n  - name: b\n    depends_on: [a]\n    jobs:\n      - {name: k, run: \"true\", timeout: 5s}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postYAML(t, ts, body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", resp.StatusCode)
			}
		})
	}
}

func TestUnknownPipelineIs404(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/pipelines/nope", "/pipelines/nope/wait"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d; want 404", path, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/pipelines/nope/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel status = %d; want 404", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postYAML(t, ts, `
name: slow
stages:
  - name: only
    jobs:
      - name: sleeper
        run: "sleep 30"
        timeout: 60s
`)
	defer resp.Body.Close()
	var submitted struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&submitted)

	// Give the sleeper a moment to start before canceling.
	time.Sleep(50 * time.Millisecond)

	cancelResp, err := http.Post(ts.URL+"/pipelines/"+submitted.ID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d; want 202", cancelResp.StatusCode)
	}

	waitResp, err := http.Get(ts.URL + "/pipelines/" + submitted.ID + "/wait")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	defer waitResp.Body.Close()
	var st flow.PipelineStatus
	if err := json.NewDecoder(waitResp.Body).Decode(&st); err != nil {
		t.Fatalf("decode wait response: %v", err)
	}
	if st.State != "canceled" {
		t.Fatalf("pipeline state = %q; want canceled", st.State)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d; want 200", resp.StatusCode)
	}
}

func TestHTTPProbeRetriesUntilHealthy(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	probe := &httpProbe{url: upstream.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := probe.Execute(ctx); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := hits.Load(); got < 3 {
		t.Fatalf("probe polled %d times; want at least 3", got)
	}
}

func TestHTTPProbeStopsOnCancel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	probe := &httpProbe{url: upstream.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := probe.Execute(ctx)
	if err == nil || !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("probe err = %v; want deadline exceeded", err)
	}
}

func TestBindExecutors(t *testing.T) {
	spec := &flow.PipelineSpec{
		Name: "p",
		Stages: []flow.StageSpec{{Name: "s", Jobs: []flow.JobSpec{
			{Name: "shell", Command: "echo hi", Timeout: flow.Duration(time.Second)},
			{Name: "probe", Command: "probe:http://localhost/healthz", Timeout: flow.Duration(time.Second)},
		}}},
	}
	if err := bindExecutors(spec); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, ok := spec.Stages[0].Jobs[0].Run.(*shellStep); !ok {
		t.Fatalf("shell job bound to %T; want *shellStep", spec.Stages[0].Jobs[0].Run)
	}
	if _, ok := spec.Stages[0].Jobs[1].Run.(*httpProbe); !ok {
		t.Fatalf("probe job bound to %T; want *httpProbe", spec.Stages[0].Jobs[1].Run)
	}

	spec.Stages[0].Jobs = append(spec.Stages[0].Jobs, flow.JobSpec{Name: "bare", Timeout: flow.Duration(time.Second)})
	if err := bindExecutors(spec); err == nil {
		t.Fatal("bind accepted a job with no run command")
	}
}
