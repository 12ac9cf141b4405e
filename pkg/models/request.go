package models

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxPromptBytes bounds the size of a single generation prompt.
const MaxPromptBytes = 64 * 1024

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = requestValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPromptBytes
	})
}

// GenerationRequest is the caller's input. It is not mutated after creation.
type GenerationRequest struct {
	Prompt      string      `json:"prompt" validate:"notblank,maxbytes"`
	DiagramType DiagramType `json:"diagramType" validate:"required,oneof=bpmn pid dmn"`
	Language    string      `json:"language,omitempty" validate:"omitempty,max=8"`
	SkipCache   bool        `json:"skipCache,omitempty"`
	AgentMode   bool        `json:"agentMode,omitempty"`
}

// Validate checks the request shape and returns an input error describing the
// first offending field.
func (r *GenerationRequest) Validate() error {
	if !utf8.ValidString(r.Prompt) {
		return NewError(KindInput, "prompt is not valid UTF-8", ErrInputInvalid)
	}
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return NewError(KindInput, describeFieldError(verrs[0]), ErrInputInvalid)
	}
	return NewError(KindInput, err.Error(), ErrInputInvalid)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Field() {
	case "Prompt":
		if fe.Tag() == "maxbytes" {
			return "prompt is too long"
		}
		return "prompt is required"
	case "DiagramType":
		return "diagramType must be one of bpmn, pid, dmn"
	}
	return strings.ToLower(fe.Field()) + " is invalid"
}

// Language identifies a detected natural language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Options are caller hints carried in a structured envelope.
type Options struct {
	Verbosity          string `json:"verbosity,omitempty"`
	ReturnIntermediate bool   `json:"returnIntermediate,omitempty"`
}

// NormalizedInput is the cleaned prompt plus anything extracted from an envelope.
type NormalizedInput struct {
	Content  string            `json:"content"`
	Language Language          `json:"language"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Options  Options           `json:"options"`
}
