package web

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// generateRequest is the body of POST /api/generate-slots.
type generateRequest struct {
	ICSLink      string             `json:"icsLink" validate:"required,url"`
	WorkingDays  []int              `json:"workingDays" validate:"required,min=1,dive,min=1,max=7"`
	WorkingHours workingHoursFields `json:"workingHours"`
	Timezone     string             `json:"timezone" validate:"required,timezone"`
	Prompt       string             `json:"prompt" validate:"required"`
}

// Pointers distinguish a missing hour from hour 0.
type workingHoursFields struct {
	Start *int `json:"start" validate:"required,min=0,max=23"`
	End   *int `json:"end" validate:"required,min=0,max=24"`
}

type generateResponse struct {
	Slots string `json:"slots"`
}

// fieldError is the first validation failure, reported as {message, field}.
type fieldError struct {
	Field   string
	Message string
}

func (e *fieldError) Error() string { return e.Field + ": " + e.Message }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// fieldPath turns "generateRequest.workingDays[2]" into "workingDays.2".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		namespace = rest
	}
	return indexPattern.ReplaceAllString(namespace, ".$1")
}

// checkRequest validates req and returns the first failure, or nil.
func (s *Server) checkRequest(req *generateRequest) *fieldError {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &fieldError{Message: "Invalid request"}
	}

	fe := verrs[0]
	field := fieldPath(fe.Namespace())
	return &fieldError{Field: field, Message: messageFor(field, fe.Tag())}
}

func messageFor(field, tag string) string {
	switch {
	case field == "icsLink":
		return "Must be a valid URL"
	case field == "workingDays":
		return "Select at least one working day"
	case strings.HasPrefix(field, "workingDays."):
		return "Working days must be between 1 and 7"
	case field == "workingHours.start" && tag == "required":
		return "Start hour is required"
	case field == "workingHours.start":
		return "Start hour must be between 0 and 23"
	case field == "workingHours.end" && tag == "required":
		return "End hour is required"
	case field == "workingHours.end":
		return "End hour must be between 0 and 24"
	case field == "timezone" && tag == "required":
		return "Timezone is required"
	case field == "timezone":
		return "Invalid timezone"
	case field == "prompt":
		return "Prompt is required"
	}
	return "Invalid value"
}
