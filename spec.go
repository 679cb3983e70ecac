package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that parses from strings like "200ms"
// and "5m" in YAML and JSON, the way a pipeline file wants to write
// them. Bare integers are taken as nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// BackoffSpec configures the retry delay policy for a job.
type BackoffSpec struct {
	Base   Duration `yaml:"base,omitempty" json:"base,omitempty"`
	Cap    Duration `yaml:"cap,omitempty" json:"cap,omitempty"`
	Jitter bool     `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// JobSpec describes one unit of work inside a stage.
//
// Run is the executable capability invoked by a worker; it is supplied
// in code and never serialized. Command is an optional declarative form
// used by front ends (such as cmd/orchd) that bind commands to
// executors themselves.
type JobSpec struct {
	Name       string      `yaml:"name" json:"name"`
	Command    string      `yaml:"run,omitempty" json:"run,omitempty"`
	Priority   int         `yaml:"priority,omitempty" json:"priority,omitempty"`
	MaxRetries int         `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Timeout    Duration    `yaml:"timeout" json:"timeout"`
	Backoff    BackoffSpec `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	Run Executor `yaml:"-" json:"-"`
}

// StageSpec describes a named group of jobs with dependency edges to
// other stages. Dependencies must form a DAG; Submit rejects cycles.
type StageSpec struct {
	Name       string    `yaml:"name" json:"name"`
	DependsOn  []string  `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	BestEffort bool      `yaml:"best_effort,omitempty" json:"best_effort,omitempty"`
	Jobs       []JobSpec `yaml:"jobs" json:"jobs"`
}

// PipelineSpec is the complete definition submitted to the orchestrator.
type PipelineSpec struct {
	Name   string      `yaml:"name" json:"name"`
	Policy string      `yaml:"policy,omitempty" json:"policy,omitempty"`
	Stages []StageSpec `yaml:"stages" json:"stages"`
}

// ParseSpec parses a YAML pipeline definition and validates it.
func ParseSpec(data []byte) (*PipelineSpec, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode pipeline spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpec reads and parses a pipeline definition file.
func LoadSpec(path string) (*PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSpec(data)
}

// FailurePolicy maps the declared policy string onto a FailurePolicy.
// An empty policy means fail-fast.
func (s *PipelineSpec) FailurePolicy() (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s.Policy)) {
	case "", "fail_fast", "fail-fast":
		return FailFast, nil
	case "continue", "continue_on_failure":
		return ContinueOnFailure, nil
	default:
		return FailFast, invalidf("unsupported policy %q", s.Policy)
	}
}

// Validate checks the structural configuration of the spec: stage and
// job names, dependency references, priorities, timeouts and retry
// settings. DAG acyclicity is checked separately at submit time.
func (s *PipelineSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return invalidf("pipeline name is required")
	}
	if _, err := s.FailurePolicy(); err != nil {
		return err
	}
	if len(s.Stages) == 0 {
		return invalidf("pipeline %q has no stages", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Stages))
	for _, st := range s.Stages {
		if strings.TrimSpace(st.Name) == "" {
			return invalidf("stage name is required")
		}
		if _, dup := seen[st.Name]; dup {
			return invalidf("duplicate stage %q", st.Name)
		}
		seen[st.Name] = struct{}{}
	}

	for _, st := range s.Stages {
		for _, dep := range st.DependsOn {
			if _, ok := seen[dep]; !ok {
				return invalidf("stage %q depends on unknown stage %q", st.Name, dep)
			}
			if dep == st.Name {
				return invalidf("stage %q depends on itself", st.Name)
			}
		}
		for _, j := range st.Jobs {
			if strings.TrimSpace(j.Name) == "" {
				return invalidf("stage %q: job name is required", st.Name)
			}
			if j.Priority < 0 {
				return invalidf("job %q: negative priority %d", j.Name, j.Priority)
			}
			if j.MaxRetries < 0 {
				return invalidf("job %q: negative max_retries %d", j.Name, j.MaxRetries)
			}
			if j.Timeout <= 0 {
				return invalidf("job %q: timeout must be positive", j.Name)
			}
			if j.Backoff.Base < 0 || j.Backoff.Cap < 0 {
				return invalidf("job %q: negative backoff duration", j.Name)
			}
		}
	}
	return nil
}
