package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

func BindJSON(ctx *gin.Context, out any) bool {
	return bindResult(ctx, out, ctx.ShouldBindJSON(out), "json", "Invalid request body")
}

// BindForm binds multipart or urlencoded fields using their form tags.
func BindForm(ctx *gin.Context, out any) bool {
	return bindResult(ctx, out, ctx.ShouldBind(out), "form", "Invalid form data")
}

func bindResult(ctx *gin.Context, out any, err error, tag, message string) bool {
	if err == nil {
		return true
	}
	if RespondTooLarge(ctx, err) {
		return false
	}
	RespondBadRequest(ctx, message, bindErrorDetails(err, out, tag))
	return false
}

// bindErrorDetails reports problems under the names clients send, not Go field names.
func bindErrorDetails(err error, out any, tag string) any {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   wireName(out, fe.StructField(), tag),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: validationMessage(fe.Tag(), fe.Param()),
			})
		}
		return gin.H{"fields": fields}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := wireName(out, typeErr.Field, tag)
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: "must be of type " + typeErr.Type.String(),
			}},
		}
	}

	if errors.Is(err, io.EOF) {
		return gin.H{"json": "empty_body"}
	}

	return gin.H{"reason": err.Error()}
}

// RespondTooLarge answers 413 when err came from reading past the body limit.
func RespondTooLarge(ctx *gin.Context, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	RespondError(ctx, http.StatusRequestEntityTooLarge, "payload_too_large",
		"Request body must not exceed "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", nil)
	return true
}

// wireName resolves a top-level Go field to its json or form name.
// Names that are already wire names pass through unchanged.
func wireName(out any, field, tag string) string {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return field
	}

	sf, ok := t.FieldByName(field)
	if !ok {
		return field
	}

	name, _, _ := strings.Cut(sf.Tag.Get(tag), ",")
	if name == "" || name == "-" {
		return field
	}
	return name
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid id"
	case "min":
		return "must be at least " + param + " characters"
	case "max":
		return "must be at most " + param + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		return "failed " + rule + " validation"
	}
}
