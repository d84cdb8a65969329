package exercise

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type TaskVariantType string

const (
	TaskVariantBrowser TaskVariantType = "browser"
	TaskVariantEditor  TaskVariantType = "editor"
)

// TaskVariant is the course-material view of a task. Exactly one of Browser
// or Editor is set, selected by the "type" discriminator on the wire.
type TaskVariant struct {
	Browser *BrowserTask
	Editor  *EditorTask
}

type BrowserTask struct {
	TaskID       uuid.UUID       `json:"task_id"`
	ExerciseType string          `json:"exercise_type"`
	IframeURL    string          `json:"exercise_iframe_url"`
	Assignment   json.RawMessage `json:"assignment"`
	PublicSpec   json.RawMessage `json:"public_spec"`
	PreviousData json.RawMessage `json:"previous_submission,omitempty"`
	Grading      json.RawMessage `json:"previous_submission_grading,omitempty"`
	ModelSol     json.RawMessage `json:"model_solution_spec,omitempty"`
}

type EditorTask struct {
	TaskID            uuid.UUID       `json:"task_id"`
	ExerciseType      string          `json:"exercise_type"`
	IframeURL         string          `json:"exercise_iframe_url"`
	Assignment        json.RawMessage `json:"assignment"`
	PrivateSpec       json.RawMessage `json:"private_spec"`
	ModelSolutionSpec json.RawMessage `json:"model_solution_spec"`
}

func (v TaskVariant) Type() TaskVariantType {
	switch {
	case v.Browser != nil:
		return TaskVariantBrowser
	case v.Editor != nil:
		return TaskVariantEditor
	default:
		return ""
	}
}

func (v TaskVariant) MarshalJSON() ([]byte, error) {
	switch {
	case v.Browser != nil && v.Editor != nil:
		return nil, fmt.Errorf("task variant has both browser and editor set")
	case v.Browser != nil:
		return json.Marshal(struct {
			Type TaskVariantType `json:"type"`
			*BrowserTask
		}{TaskVariantBrowser, v.Browser})
	case v.Editor != nil:
		return json.Marshal(struct {
			Type TaskVariantType `json:"type"`
			*EditorTask
		}{TaskVariantEditor, v.Editor})
	default:
		return nil, fmt.Errorf("empty task variant")
	}
}

func (v *TaskVariant) UnmarshalJSON(data []byte) error {
	var head struct {
		Type TaskVariantType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*v = TaskVariant{}
	switch head.Type {
	case TaskVariantBrowser:
		v.Browser = &BrowserTask{}
		return json.Unmarshal(data, v.Browser)
	case TaskVariantEditor:
		v.Editor = &EditorTask{}
		return json.Unmarshal(data, v.Editor)
	default:
		return fmt.Errorf("unknown task variant type %q", head.Type)
	}
}
