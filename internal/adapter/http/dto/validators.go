package dto

import (
	"html"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	safeRefRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,128}$`)
	methodRe  = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_ref", validateSafeRef)
		_ = v.RegisterValidation("withdrawal_method", validateWithdrawalMethod)
	}
}

// validateSafeRef allows alphanumeric, underscore, dash, dot, and colon.
func validateSafeRef(fl validator.FieldLevel) bool {
	return safeRefRe.MatchString(fl.Field().String())
}

// validateWithdrawalMethod checks the shape of a rail name. Whether the rail is
// enabled is wallet policy and decided by the service.
func validateWithdrawalMethod(fl validator.FieldLevel) bool {
	return methodRe.MatchString(fl.Field().String())
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				s := sanitize(elem.String())
				elem.SetString(s)
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
