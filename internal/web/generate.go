package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"time"

	"freeslots/internal/assistant"
	"freeslots/internal/ics"
	appLog "freeslots/internal/log"
	"freeslots/internal/metrics"
	"freeslots/internal/model"
	"freeslots/internal/slots"
	"freeslots/internal/usagelog"
)

const (
	maxRequestBytes = 1 << 20

	msgFetchFailed = "Failed to fetch the ICS link."
	msgInternal    = "An internal server error occurred."
)

// handleGenerate computes free slots for the posted calendar and settings.
//
// POST /api/generate-slots
//
//	{"icsLink": "...", "workingDays": [1,2,3,4,5],
//	 "workingHours": {"start": 9, "end": 17},
//	 "timezone": "Europe/London", "prompt": "next 3 working days"}
//
// 200 {"slots": "..."}; 400 {"message", "field"} for invalid input or an
// unreachable calendar; 500 {"message"} otherwise.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := RequestIDFrom(ctx)

	var body generateRequest
	if err := decodeJSON(r, &body); err != nil {
		s.metrics.SlotRequest(metrics.OutcomeInvalid)
		var fe *fieldError
		if errors.As(err, &fe) {
			writeError(w, http.StatusBadRequest, fe.Message, fe.Field)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}

	if fe := s.checkRequest(&body); fe != nil {
		s.metrics.SlotRequest(metrics.OutcomeInvalid)
		appLog.Debug("generate-slots rejected", "request_id", reqID, "field", fe.Field, "message", fe.Message)
		writeError(w, http.StatusBadRequest, fe.Message, fe.Field)
		return
	}

	loc, err := time.LoadLocation(body.Timezone)
	if err != nil {
		s.metrics.SlotRequest(metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, "Invalid timezone", "timezone")
		return
	}

	s.recorder.Record(ctx, usagelog.Entry{Timezone: body.Timezone, Prompt: body.Prompt})

	res, err := s.slots.Generate(ctx, slots.Request{
		ICSLink: body.ICSLink,
		WorkingHours: model.WorkingHours{
			Days:      body.WorkingDays,
			StartHour: *body.WorkingHours.Start,
			EndHour:   *body.WorkingHours.End,
			Location:  loc,
		},
		Prompt: body.Prompt,
	})
	if err != nil {
		s.writeGenerateError(w, reqID, body.ICSLink, err)
		return
	}

	s.metrics.SlotRequest(metrics.OutcomeOK)
	appLog.Info("slots generated",
		"request_id", reqID,
		"timezone", body.Timezone,
		"free_windows", res.WindowCount,
		"busy", res.BusyCount,
	)
	writeJSON(w, http.StatusOK, generateResponse{Slots: res.Slots})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, reqID, link string, err error) {
	switch {
	case errors.Is(err, slots.ErrCalendarFetch):
		s.metrics.SlotRequest(metrics.OutcomeFetchFailed)
		appLog.Warn("calendar fetch failed", "request_id", reqID, "url", ics.RedactURL(link), "error", err.Error())
		writeError(w, http.StatusBadRequest, msgFetchFailed, "")
		return
	case errors.Is(err, slots.ErrCalendarParse):
		s.metrics.SlotRequest(metrics.OutcomeParseFailed)
	case errors.Is(err, assistant.ErrAssistant):
		s.metrics.SlotRequest(metrics.OutcomeAssistant)
	default:
		s.metrics.SlotRequest(metrics.OutcomeError)
	}
	appLog.Error("generate-slots failed", err, "request_id", reqID)
	writeError(w, http.StatusInternalServerError, msgInternal, "")
}

// decodeJSON reads a single JSON object. Unknown fields are ignored; a
// value of the wrong type is reported against its field.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &fieldError{
				Field:   typeErr.Field,
				Message: "Expected " + jsonKind(typeErr.Type),
			}
		}
		return err
	}
	return nil
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return "integer"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return t.String()
}
