package models

import (
	"encoding/json"
	"fmt"
)

// The agent executor is not perfectly consistent about plan field names.
// Known aliases are repaired here, once, so the rest of the engine only
// ever sees the canonical shape. Unknown fields are preserved verbatim in
// Extra so a patch written by this core never strips data owned by the
// executor.

var subtaskIDAliases = []string{"id", "subtask_id", "task_id"}
var subtaskDescAliases = []string{"description", "desc", "title", "name"}
var phaseSubtaskAliases = []string{"subtasks", "tasks", "items"}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// UnmarshalJSON normalizes alias keys and defaults a missing status to
// pending, preserving unrecognized fields.
func (s *Subtask) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode subtask: %w", err)
	}
	s.ID = stringField(raw, subtaskIDAliases...)
	s.Description = stringField(raw, subtaskDescAliases...)
	s.Status = stringField(raw, "status")
	if s.Status == "" {
		s.Status = StatusPending
	}
	s.FilesToCreate = stringList(raw["files_to_create"])
	s.FilesToModify = stringList(raw["files_to_modify"])
	s.CompletedAt = stringField(raw, "completed_at")

	known := map[string]bool{
		"status": true, "files_to_create": true, "files_to_modify": true,
		"completed_at": true,
	}
	for _, k := range subtaskIDAliases {
		known[k] = true
	}
	for _, k := range subtaskDescAliases {
		known[k] = true
	}
	for k, v := range raw {
		if !known[k] {
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes the canonical field names plus any preserved extras.
func (s Subtask) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		m[k] = v
	}
	m["id"] = s.ID
	m["description"] = s.Description
	m["status"] = s.Status
	if len(s.FilesToCreate) > 0 {
		m["files_to_create"] = s.FilesToCreate
	}
	if len(s.FilesToModify) > 0 {
		m["files_to_modify"] = s.FilesToModify
	}
	if s.CompletedAt != "" {
		m["completed_at"] = s.CompletedAt
	}
	return json.Marshal(m)
}

func (p *PlanPhase) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode phase: %w", err)
	}
	p.ID = stringField(raw, "id", "phase_id")
	p.Name = stringField(raw, "name", "title")

	for _, key := range phaseSubtaskAliases {
		items, ok := raw[key].([]any)
		if !ok {
			continue
		}
		p.Subtasks = make([]Subtask, 0, len(items))
		for _, it := range items {
			b, err := json.Marshal(it)
			if err != nil {
				return err
			}
			var st Subtask
			if err := json.Unmarshal(b, &st); err != nil {
				return err
			}
			p.Subtasks = append(p.Subtasks, st)
		}
		break
	}
	return nil
}

func (p PlanPhase) MarshalJSON() ([]byte, error) {
	subtasks := p.Subtasks
	if subtasks == nil {
		subtasks = []Subtask{}
	}
	return json.Marshal(map[string]any{
		"id":       p.ID,
		"name":     p.Name,
		"subtasks": subtasks,
	})
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	p.SpecID = stringField(raw, "spec_id", "spec")

	if items, ok := raw["phases"].([]any); ok {
		p.Phases = make([]PlanPhase, 0, len(items))
		for _, it := range items {
			b, err := json.Marshal(it)
			if err != nil {
				return err
			}
			var ph PlanPhase
			if err := json.Unmarshal(b, &ph); err != nil {
				return err
			}
			p.Phases = append(p.Phases, ph)
		}
	}
	if v, ok := raw["qa_signoff"]; ok && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var s QASignoff
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode qa_signoff: %w", err)
		}
		p.QASignoff = &s
	}
	if v, ok := raw["qa_iteration_history"]; ok && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &p.QAIterationHistory); err != nil {
			return fmt.Errorf("decode qa_iteration_history: %w", err)
		}
	}

	known := map[string]bool{
		"spec_id": true, "spec": true, "phases": true,
		"qa_signoff": true, "qa_iteration_history": true,
	}
	for k, v := range raw {
		if !known[k] {
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return nil
}

func (p Plan) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.SpecID != "" {
		m["spec_id"] = p.SpecID
	}
	phases := p.Phases
	if phases == nil {
		phases = []PlanPhase{}
	}
	m["phases"] = phases
	if p.QASignoff != nil {
		m["qa_signoff"] = p.QASignoff
	}
	if len(p.QAIterationHistory) > 0 {
		m["qa_iteration_history"] = p.QAIterationHistory
	}
	return json.Marshal(m)
}
