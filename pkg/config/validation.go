package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct tags and returns a
// readable error naming every offending field.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("config validation: %w", err)
		}

		for _, fieldErr := range validationErrors {
			return fmt.Errorf("config field %q failed %q validation (value: %v)",
				fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value())
		}
	}

	return nil
}
