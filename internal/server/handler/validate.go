package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// customRules are registered on the shared validator by tag name.
var customRules = map[string]validator.Func{
	"token_ref": func(fl validator.FieldLevel) bool {
		_, err := domain.ParseTokenRef(fl.Field().String())
		return err == nil
	},
	"eth_addr": func(fl validator.FieldLevel) bool {
		return common.IsHexAddress(fl.Field().String())
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, fn := range customRules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("handler: register %s: %v", tag, err))
		}
	}
	return v
}

// validationMessage flattens validator errors into one client-facing line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "token_ref":
			parts = append(parts, fe.Field()+" must look like 0x<contract>:<tokenId>")
		case "eth_addr":
			parts = append(parts, fe.Field()+" must be a hex address")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
