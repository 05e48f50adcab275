// Package evaluation implements the evaluation pipeline (C11): synthetic
// test-set generation and LLM-as-judge experiment scoring across the four
// RAG metrics (faithfulness, answer relevancy, context recall, context
// precision).
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/promptreg"
)

// Request is the input to one metric evaluation.
type Request struct {
	Question    string
	GroundTruth string
	Contexts    []string
	Answer      string
}

// Response is one metric's scalar verdict.
type Response struct {
	Score float64
}

// Evaluator scores one aspect of a generated answer.
type Evaluator interface {
	Evaluate(ctx context.Context, req *Request) (*Response, error)
}

// judge is the shared shape behind all four LLM-as-judge metrics: render a
// promptreg template, call the provider, and parse its JSON verdict.
type judge struct {
	provider llm.Provider
	model    string
	name     promptreg.Name
	parse    func(text string) (float64, error)
	render   func(req *Request) (interface{}, error)
}

func (j *judge) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	data, err := j.render(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s prompt data: %w", j.name, err)
	}
	prompt, err := promptreg.Render(j.name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s prompt: %w", j.name, err)
	}

	text, _, err := j.provider.Generate(ctx, j.model, []llm.Message{{Role: llm.RoleUser, Text: prompt}})
	if err != nil {
		return nil, fmt.Errorf("%s judge call failed: %w", j.name, err)
	}

	score, err := j.parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s verdict: %w", j.name, err)
	}
	return &Response{Score: score}, nil
}

// extractJSON trims any surrounding prose/code fence a judge model adds
// around its JSON verdict, returning the outermost {...} span.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

type scoreVerdict struct {
	Score float64 `json:"score"`
}

func parseScore(text string) (float64, error) {
	var v scoreVerdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal score verdict: %w", err)
	}
	return v.Score, nil
}

type faithfulnessVerdict struct {
	Claims []struct {
		Claim     string `json:"claim"`
		Supported bool   `json:"supported"`
	} `json:"claims"`
}

func parseFaithfulness(text string) (float64, error) {
	var v faithfulnessVerdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal faithfulness verdict: %w", err)
	}
	if len(v.Claims) == 0 {
		return 1, nil
	}
	supported := 0
	for _, c := range v.Claims {
		if c.Supported {
			supported++
		}
	}
	return float64(supported) / float64(len(v.Claims)), nil
}
