// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// stepDoc mirrors Step's tagged-union shape as YAML, since a plain
// struct tag round trip would require every variant's fields to always be
// present in the file.
type stepDoc struct {
	Name      string         `yaml:"name"`
	Type      StepType       `yaml:"type"`
	DependsOn []string       `yaml:"depends_on"`
	OnError   FailurePolicy  `yaml:"on_error"`
	Retry     *RetryPolicy   `yaml:"retry"`

	Pipeline string         `yaml:"pipeline"`
	Params   map[string]any `yaml:"params"`

	HandlerRef string         `yaml:"handler"`
	Config     map[string]any `yaml:"config"`

	Condition string `yaml:"condition"`
	ThenStep  string `yaml:"then"`
	ElseStep  string `yaml:"else"`

	WaitSeconds int `yaml:"wait_seconds"`

	ItemsPath      string `yaml:"items_path"`
	IteratorStep   string `yaml:"iterator_step"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

type policyDoc struct {
	Mode           ExecutionMode `yaml:"mode"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	OnFailure      FailurePolicy `yaml:"on_failure"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
}

type workflowDoc struct {
	Name        string         `yaml:"name"`
	Domain      string         `yaml:"domain"`
	Version     int            `yaml:"version"`
	Description string         `yaml:"description"`
	Defaults    map[string]any `yaml:"defaults"`
	Policy      *policyDoc     `yaml:"policy"`
	Tags        []string       `yaml:"tags"`
	Steps       []stepDoc      `yaml:"steps"`
}

func (d workflowDoc) toWorkflow() Workflow {
	steps := make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = Step{
			Name:           s.Name,
			Type:           s.Type,
			DependsOn:      s.DependsOn,
			OnError:        s.OnError,
			Retry:          s.Retry,
			Pipeline:       s.Pipeline,
			Params:         s.Params,
			HandlerRef:     s.HandlerRef,
			Config:         s.Config,
			Condition:      s.Condition,
			ThenStep:       s.ThenStep,
			ElseStep:       s.ElseStep,
			WaitSeconds:    s.WaitSeconds,
			ItemsPath:      s.ItemsPath,
			IteratorStep:   s.IteratorStep,
			MaxConcurrency: s.MaxConcurrency,
		}
	}

	w := Workflow{
		Name:        d.Name,
		Domain:      d.Domain,
		Version:     d.Version,
		Description: d.Description,
		Steps:       steps,
		Defaults:    d.Defaults,
		Tags:        d.Tags,
		Policy:      DefaultExecutionPolicy,
	}
	if d.Policy != nil {
		w.Policy = ExecutionPolicy{
			Mode:           d.Policy.Mode,
			MaxConcurrency: d.Policy.MaxConcurrency,
			OnFailure:      d.Policy.OnFailure,
			TimeoutSeconds: d.Policy.TimeoutSeconds,
		}
	}
	return w
}

// LoadFile parses a single workflow definition file.
func LoadFile(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workflow{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Workflow{}, fmt.Errorf("workflow: parse %s: %w", path, err)
	}
	if doc.Name == "" {
		return Workflow{}, fmt.Errorf("workflow: %s missing required field name", path)
	}
	return doc.toWorkflow(), nil
}

// LoadDir parses every *.yaml/*.yml file directly under dir into a
// Workflow. A missing directory is not an error: it just yields no
// workflows, so a daemon run without a configured workflow directory still
// starts.
func LoadDir(dir string) ([]Workflow, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: read dir %s: %w", dir, err)
	}

	var out []Workflow
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		w, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
