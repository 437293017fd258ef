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

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures a remote OpenAI-compatible inference
// endpoint (OpenAI itself, vLLM, Ollama's compat API, etc.).
type OpenAIConfig struct {
	// Name is the control-plane model identifier. Required.
	Name string

	// APIKey authenticates against the endpoint. Required for OpenAI,
	// often a placeholder for local compat servers.
	APIKey string

	// BaseURL overrides the endpoint, e.g. "http://vllm:8000/v1".
	// Empty uses the OpenAI default.
	BaseURL string

	// Model is the upstream model name, e.g. "gpt-4o-mini".
	Model string

	// SystemPrompt, when set, is prepended to every request.
	SystemPrompt string

	// Temperature, when non-nil, overrides the upstream default.
	Temperature *float32
}

// OpenAIModel serves predictions through a chat-completions endpoint.
//
// # Description
//
// The input is rendered to a user message: strings pass through,
// anything else via fmt.Sprintf("%v"). The first choice's content is
// returned as the prediction value. Upstream failures surface as
// wrapped errors so the balancer can mark the instance unhealthy and
// error rates stay visible to experiment analysis.
type OpenAIModel struct {
	name   string
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI builds an OpenAIModel from cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("openai model: name is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model: upstream model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIModel{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// OpenAIFactory returns a Factory producing instances against the same
// endpoint. Instances share nothing but configuration, so pool-level
// isolation of a misbehaving instance still works.
func OpenAIFactory(cfg OpenAIConfig) Factory {
	return func() (Model, error) {
		return NewOpenAI(cfg)
	}
}

// Name returns the control-plane model identifier.
func (m *OpenAIModel) Name() string {
	return m.name
}

// Predict sends one chat completion and returns the first choice.
func (m *OpenAIModel) Predict(ctx context.Context, input any) (Output, error) {
	prompt, ok := input.(string)
	if !ok {
		prompt = fmt.Sprintf("%v", input)
	}

	var messages []openai.ChatCompletionMessage
	if m.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: m.cfg.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    m.cfg.Model,
		Messages: messages,
	}
	if m.cfg.Temperature != nil {
		req.Temperature = *m.cfg.Temperature
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Debug("openai prediction failed", "model", m.name, "error", err)
		return Output{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Output{}, fmt.Errorf("openai completion: no choices returned")
	}
	return Output{Value: resp.Choices[0].Message.Content}, nil
}
