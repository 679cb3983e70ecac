package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	flow "github.com/Andrej220/go-utils/flow"
)

const (
	// probePrefix marks a run command as an HTTP readiness probe
	// instead of a shell command: run: "probe:http://host/healthz".
	probePrefix = "probe:"

	probeRequestTimeout = 5 * time.Second
	probeInitialDelay   = 200 * time.Millisecond
	probeMaxDelay       = 5 * time.Second
)

// bindExecutors attaches an executor to every job that declared a run
// command. Jobs already carrying an executor are left alone.
func bindExecutors(spec *flow.PipelineSpec) error {
	for si := range spec.Stages {
		for ji := range spec.Stages[si].Jobs {
			j := &spec.Stages[si].Jobs[ji]
			if j.Run != nil {
				continue
			}
			cmd := strings.TrimSpace(j.Command)
			switch {
			case strings.HasPrefix(cmd, probePrefix):
				j.Run = &httpProbe{url: strings.TrimSpace(strings.TrimPrefix(cmd, probePrefix))}
			case cmd != "":
				j.Run = &shellStep{command: cmd}
			default:
				return fmt.Errorf("job %q has no run command", j.Name)
			}
		}
	}
	return nil
}

// shellStep runs a command through the shell. The job's context carries
// both the per-job timeout and pipeline cancellation, so a killed step
// surfaces as a normal execution failure.
type shellStep struct {
	command string
}

func (s *shellStep) Execute(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("command %q: %w", s.command, err)
		}
		return fmt.Errorf("command %q: %w: %s", s.command, err, msg)
	}
	return nil
}

// httpProbe polls a URL until it answers 2xx, backing off between
// polls. It runs until the probe passes or the job times out, which
// makes it a natural deploy-stage gate.
type httpProbe struct {
	url    string
	client *http.Client
}

func (p *httpProbe) Execute(ctx context.Context) error {
	client := p.client
	if client == nil {
		client = &http.Client{Timeout: probeRequestTimeout}
	}
	bo := boff.New(probeInitialDelay, probeMaxDelay, time.Now().UnixNano())
	for {
		err := p.poll(ctx, client)
		if err == nil {
			return nil
		}
		delay := bo.Next()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C // drain if timer is fired
			}
			return fmt.Errorf("probe %s: %w (last: %v)", p.url, ctx.Err(), err)
		}
	}
}

func (p *httpProbe) poll(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: unexpected status %s", p.url, resp.Status)
	}
	return nil
}
