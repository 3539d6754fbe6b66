package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/warp/wastewise/ledger"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Validator checks request DTOs and renders failures as field messages.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func NewValidator() *Validator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate, translator: translator}
}

// Struct validates s and converts failures into a ValidationError.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ledger.NewValidationError("invalid_request", err.Error())
	}
	fields := make([]ledger.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ledger.FieldError{Field: fe.Field(), Message: fe.Translate(v.translator)})
	}
	return ledger.NewValidationError("invalid_request", "request is invalid", fields...)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ledger.NewValidationError("invalid_json", "request body is empty")
		}
		return ledger.NewValidationError("invalid_json", fmt.Sprintf("request body is not valid JSON: %v", err))
	}
	return h.validator.Struct(dst)
}
