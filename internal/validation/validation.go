package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DateLayout = "2006-01-02"

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

var validate = newValidator()

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

// DispatchRequest is the body of POST /v1/batches. Either years or a
// start/end pair selects the window; neither means the configured default.
type DispatchRequest struct {
	Years        int      `json:"years" validate:"omitempty,min=1,max=20"`
	Start        string   `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End          string   `json:"end" validate:"omitempty,datetime=2006-01-02"`
	SkipExisting *bool    `json:"skip_existing"`
	Symbols      []string `json:"symbols" validate:"omitempty,max=5000,dive,required,max=16"`
	Priority     int      `json:"priority" validate:"min=0,max=10"`
}

// Window returns the parsed start and end. Both are zero when unset.
func (r DispatchRequest) Window() (time.Time, time.Time) {
	var start, end time.Time
	if r.Start != "" {
		start, _ = time.Parse(DateLayout, r.Start)
	}
	if r.End != "" {
		end, _ = time.Parse(DateLayout, r.End)
	}
	return start, end
}

// Skip defaults to true.
func (r DispatchRequest) Skip() bool {
	return r.SkipExisting == nil || *r.SkipExisting
}

func ValidateDispatchRequest(req DispatchRequest) ValidationErrors {
	var errs ValidationErrors

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return ValidationErrors{{Field: "request", Message: err.Error()}}
		}
		for _, fe := range verrs {
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			errs = append(errs, ValidationError{Field: field, Message: describe(fe)})
		}
		return errs
	}

	if (req.Start == "") != (req.End == "") {
		errs = append(errs, ValidationError{Field: "start", Message: "start and end must be given together"})
	}
	if req.Start != "" && req.Years != 0 {
		errs = append(errs, ValidationError{Field: "years", Message: "use either years or start/end"})
	}
	if start, end := req.Window(); !start.IsZero() && !end.IsZero() && start.After(end) {
		errs = append(errs, ValidationError{Field: "start", Message: "start is after end"})
	}
	for i, s := range req.Symbols {
		if s != strings.ToUpper(strings.TrimSpace(s)) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("symbols[%d]", i), Message: "symbols must be upper-case tickers"})
		}
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		switch fe.Kind() {
		case reflect.Slice:
			return fmt.Sprintf("must have at most %s items", fe.Param())
		case reflect.String:
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "datetime":
		return "must be a YYYY-MM-DD date"
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
