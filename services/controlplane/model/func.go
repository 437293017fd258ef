// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import "context"

// FuncModel adapts a plain function to the Model interface. Used by
// embedders wrapping in-process scorers and heavily by tests.
type FuncModel struct {
	name string
	fn   func(ctx context.Context, input any) (Output, error)
}

// NewFunc wraps fn as a Model named name.
func NewFunc(name string, fn func(ctx context.Context, input any) (Output, error)) *FuncModel {
	return &FuncModel{name: name, fn: fn}
}

// Name returns the model identifier.
func (m *FuncModel) Name() string {
	return m.name
}

// Predict delegates to the wrapped function.
func (m *FuncModel) Predict(ctx context.Context, input any) (Output, error) {
	return m.fn(ctx, input)
}

// FuncFactory returns a Factory producing independent FuncModel
// instances sharing the same function.
func FuncFactory(name string, fn func(ctx context.Context, input any) (Output, error)) Factory {
	return func() (Model, error) {
		return NewFunc(name, fn), nil
	}
}
