package flow

import (
	"errors"
	"testing"
	"time"
)

const sampleYAML = `
name: release
policy: continue
stages:
  - name: build
    jobs:
      - name: compile
        run: "go build ./..."
        priority: 1
        max_retries: 2
        timeout: 5m
        backoff:
          base: 200ms
          cap: 5s
          jitter: true
  - name: deploy
    depends_on: [build]
    best_effort: true
    jobs:
      - name: rollout
        run: "kubectl apply -f deploy.yaml"
        timeout: 10m
`

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if spec.Name != "release" {
		t.Fatalf("name = %q; want release", spec.Name)
	}
	policy, err := spec.FailurePolicy()
	if err != nil {
		t.Fatalf("FailurePolicy: %v", err)
	}
	if policy != ContinueOnFailure {
		t.Fatalf("policy = %v; want continue", policy)
	}
	if len(spec.Stages) != 2 {
		t.Fatalf("stages = %d; want 2", len(spec.Stages))
	}

	compile := spec.Stages[0].Jobs[0]
	if compile.Priority != 1 || compile.MaxRetries != 2 {
		t.Fatalf("compile priority/retries = %d/%d; want 1/2", compile.Priority, compile.MaxRetries)
	}
	if compile.Timeout.Std() != 5*time.Minute {
		t.Fatalf("compile timeout = %v; want 5m", compile.Timeout)
	}
	if compile.Backoff.Base.Std() != 200*time.Millisecond || !compile.Backoff.Jitter {
		t.Fatalf("compile backoff = %+v", compile.Backoff)
	}

	deploy := spec.Stages[1]
	if !deploy.BestEffort {
		t.Fatal("deploy best_effort not parsed")
	}
	if len(deploy.DependsOn) != 1 || deploy.DependsOn[0] != "build" {
		t.Fatalf("deploy depends_on = %v", deploy.DependsOn)
	}
}

func TestParseSpecRejectsGarbage(t *testing.T) {
	if _, err := ParseSpec([]byte("{not yaml")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSpecValidate(t *testing.T) {
	valid := func() *PipelineSpec {
		return &PipelineSpec{
			Name: "p",
			Stages: []StageSpec{
				{Name: "a", Jobs: []JobSpec{{Name: "j", Timeout: Duration(time.Second)}}},
				{Name: "b", DependsOn: []string{"a"}, Jobs: []JobSpec{{Name: "k", Timeout: Duration(time.Second)}}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*PipelineSpec)
	}{
		{"empty pipeline name", func(s *PipelineSpec) { s.Name = " " }},
		{"unknown policy", func(s *PipelineSpec) { s.Policy = "sometimes" }},
		{"no stages", func(s *PipelineSpec) { s.Stages = nil }},
		{"empty stage name", func(s *PipelineSpec) { s.Stages[0].Name = "" }},
		{"duplicate stage", func(s *PipelineSpec) { s.Stages[1].Name = "a"; s.Stages[1].DependsOn = nil }},
		{"unknown dependency", func(s *PipelineSpec) { s.Stages[1].DependsOn = []string{"zzz"} }},
		{"self dependency", func(s *PipelineSpec) { s.Stages[0].DependsOn = []string{"a"} }},
		{"empty job name", func(s *PipelineSpec) { s.Stages[0].Jobs[0].Name = "" }},
		{"negative priority", func(s *PipelineSpec) { s.Stages[0].Jobs[0].Priority = -1 }},
		{"negative retries", func(s *PipelineSpec) { s.Stages[0].Jobs[0].MaxRetries = -1 }},
		{"zero timeout", func(s *PipelineSpec) { s.Stages[0].Jobs[0].Timeout = 0 }},
		{"negative backoff", func(s *PipelineSpec) { s.Stages[0].Jobs[0].Backoff.Base = Duration(-time.Second) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := valid()
			tc.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("Validate() = %v; want ErrInvalidArgument", err)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
