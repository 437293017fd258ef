// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for operator-provided
// identifiers and configuration structs.
//
// Model names flow into metric labels, storage keys, and URL paths, so
// they are restricted to a safe character set. Configuration structs
// carry `validate` tags checked through a shared validator instance.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// modelNamePattern matches valid model identifiers.
// Allows: letters, digits, dots, hyphens, underscores. Must start with
// an alphanumeric. Max length: 64 characters.
var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// validate is the shared validator instance. The validator caches
// struct metadata, so one instance serves the whole process.
var validate = validator.New()

// Struct validates a configuration struct against its `validate` tags.
//
// Example:
//
//	if err := validation.Struct(cfg); err != nil {
//	    return fmt.Errorf("invalid config: %w", err)
//	}
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("validation failed: %s", strings.Join(fields, ", "))
	}
	return err
}

// ValidateModelName validates a model identifier.
//
// Valid names:
//   - 1-64 characters
//   - Letters, digits, dots, hyphens, underscores
//   - First character alphanumeric
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateModelName(name); err != nil {
//	    return fmt.Errorf("invalid model name: %w", err)
//	}
func ValidateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid model name: %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores, starting alphanumeric)", name)
	}

	return nil
}

// ValidateModelNames validates multiple model identifiers.
// Returns an error listing all invalid names if any fail validation.
func ValidateModelNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateModelName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid model names: %v", invalid)
	}
	return nil
}

// SanitizeModelName normalizes and validates a model identifier.
// Returns the trimmed name if valid, or an error if invalid.
func SanitizeModelName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateModelName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
