package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// JobBatch is the on-disk layout of a batch job file.
type JobBatch struct {
	Preset string       `yaml:"preset,omitempty"` // Applied to every job before its own fields.
	Jobs   []*JobConfig `yaml:"jobs"`
}

// DecodeJobBatch reads a YAML batch file. Unknown keys are rejected rather
// than ignored, and every job is validated.
func DecodeJobBatch(r io.Reader) ([]*JobConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var batch JobBatch
	if err := dec.Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("job file is empty")
		}
		return nil, fmt.Errorf("decode job file: %w", err)
	}
	if len(batch.Jobs) == 0 {
		return nil, errors.New("job file contains no jobs")
	}

	jobs := make([]*JobConfig, 0, len(batch.Jobs))
	for i, job := range batch.Jobs {
		if job == nil {
			return nil, fmt.Errorf("job %d: empty entry", i)
		}
		if batch.Preset != "" {
			merged, err := ApplyPreset(job, batch.Preset)
			if err != nil {
				return nil, fmt.Errorf("job %d: %w", i, err)
			}
			job = merged
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DecodeJobJSON reads a single job from JSON, rejecting unknown keys.
func DecodeJobJSON(r io.Reader) (*JobConfig, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var job JobConfig
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// jobFields maps each serialized key of JobConfig to its field index.
var jobFields = func() map[string]int {
	t := reflect.TypeOf(JobConfig{})
	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			fields[name] = i
		}
	}
	return fields
}()

// UnmarshalJSON decodes a job strictly and records which keys were given.
func (j *JobConfig) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	type plain JobConfig
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	j.present = make(map[string]struct{}, len(keys))
	for k := range keys {
		j.present[strings.ToLower(k)] = struct{}{}
	}
	return nil
}

// UnmarshalYAML decodes a job strictly and records which keys were given.
func (j *JobConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: a job must be a mapping", node.Line)
	}
	present := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if _, ok := jobFields[key.Value]; !ok {
			return fmt.Errorf("line %d: field %s not found in job", key.Line, key.Value)
		}
		present[key.Value] = struct{}{}
	}

	type plain JobConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	j.present = present
	return nil
}

// overlay copies onto dst every field src sets: keys present in the decoded
// document, explicit zeros included, and any non-zero field. dst records
// the union so the result can be layered again.
func overlay(dst, src *JobConfig) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	present := make(map[string]struct{}, len(jobFields))
	for name, i := range jobFields {
		if _, ok := dst.present[name]; ok || !dv.Field(i).IsZero() {
			present[name] = struct{}{}
		}
	}
	for name, i := range jobFields {
		f := sv.Field(i)
		if _, ok := src.present[name]; !ok && f.IsZero() {
			continue
		}
		dv.Field(i).Set(f)
		present[name] = struct{}{}
	}
	dst.present = present
}
