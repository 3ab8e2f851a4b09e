package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once     sync.Once
	shared   *validator.Validate
	trans    ut.Translator
	setupErr error
)

// New returns the process-wide validator. Field names in messages come from json tags
// and messages are translated to English.
func New() *validator.Validate {
	once.Do(setup)
	return shared
}

func setup() {
	v := validator.New()
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
	setupErr = en_translations.RegisterDefaultTranslations(v, trans)
	shared = v
}

// BindGin makes gin's binding engine use the shared validator.
func BindGin() error {
	New()
	if setupErr != nil {
		return setupErr
	}
	binding.Validator = &ginValidator{validate: shared}
	return nil
}

// Fields maps each failing field to a readable message. Errors that are not
// validation failures yield a single "detail" entry.
func Fields(err error) map[string]string {
	if err == nil {
		return nil
	}
	New()
	fields := make(map[string]string)

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

type ginValidator struct {
	validate *validator.Validate
}

func (g *ginValidator) ValidateStruct(obj interface{}) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil
	}
	return g.validate.Struct(obj)
}

func (g *ginValidator) Engine() interface{} {
	return g.validate
}
