package validation

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"go-fleet/internal/fleet"
	"go-fleet/internal/http/constants"
)

func RegisterJobValidation(validate *validator.Validate, registry *fleet.Registry, templates *fleet.Templates) error {
	err := validate.RegisterValidation("knownWorker", func(fl validator.FieldLevel) bool {
		return registry.Has(fleet.WorkerId(fl.Field().String()))
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("knownMethod", func(fl validator.FieldLevel) bool {
		return templates.Has(fl.Field().String())
	})
	if err != nil {
		return err
	}

	return validate.RegisterValidation("httpTarget", func(fl validator.FieldLevel) bool {
		return IsSafeTarget(fl.Field().String())
	})
}

// IsSafeTarget accepts absolute http(s) URLs free of shell metacharacters.
func IsSafeTarget(target string) bool {
	for _, char := range constants.BlacklistedTargetChars {
		if strings.Contains(target, char) {
			return false
		}
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
