// Package validator configures gin's binding validator and turns its raw
// errors into field-keyed messages suitable for API responses.
package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var trans ut.Translator

// Init wires json field names and English translations into the binding
// validator. Safe to call more than once.
func Init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ = uni.GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(v, trans)
}

// IsFieldError reports whether err carries per-field validation failures as
// opposed to a malformed body.
func IsFieldError(err error) bool {
	_, ok := err.(validator.ValidationErrors)
	return ok
}

// Fields flattens a binding error into field → message. Non-validation
// errors collapse to a single body entry.
func Fields(err error) map[string]string {
	out := make(map[string]string)
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		out["body"] = "invalid request body"
		return out
	}
	for _, e := range errs {
		ns := e.Namespace()
		if i := strings.Index(ns, "."); i != -1 {
			ns = ns[i+1:]
		}
		msg := e.Translate(trans)
		if e.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(e.Param(), " ", ", "))
		}
		out[ns] = msg
	}
	return out
}
