// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateModelName(t *testing.T) {
	valid := []string{
		"scorer",
		"fraud-scorer",
		"ranker_v2",
		"model.2024.10",
		"A1",
		strings.Repeat("a", 64),
	}
	for _, name := range valid {
		if err := ValidateModelName(name); err != nil {
			t.Errorf("ValidateModelName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		"-scorer",
		".hidden",
		"has space",
		"model/path",
		"model;drop",
		strings.Repeat("a", 65),
	}
	for _, name := range invalid {
		if err := ValidateModelName(name); err == nil {
			t.Errorf("ValidateModelName(%q) = nil, want error", name)
		}
	}
}

func TestValidateModelNames(t *testing.T) {
	if err := ValidateModelNames([]string{"a", "b-1"}); err != nil {
		t.Errorf("all valid: got %v", err)
	}

	err := ValidateModelNames([]string{"ok", "bad name", "also/bad"})
	if err == nil {
		t.Fatal("expected error for invalid names")
	}
	if !strings.Contains(err.Error(), "bad name") {
		t.Errorf("error should list offenders, got %v", err)
	}
}

func TestSanitizeModelName(t *testing.T) {
	got, err := SanitizeModelName("  scorer-v2  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "scorer-v2" {
		t.Errorf("got %q, want %q", got, "scorer-v2")
	}

	if _, err := SanitizeModelName("  "); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestStruct(t *testing.T) {
	type cfg struct {
		Name string  `validate:"required"`
		Rate float64 `validate:"gte=0,lte=1"`
	}

	if err := Struct(cfg{Name: "x", Rate: 0.5}); err != nil {
		t.Errorf("valid struct: got %v", err)
	}

	err := Struct(cfg{Rate: 1.5})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Name") || !strings.Contains(err.Error(), "Rate") {
		t.Errorf("error should name failing fields, got %v", err)
	}
}
