package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/safespeak/moderation-engine/backend/internal/calibration"
	"github.com/safespeak/moderation-engine/backend/internal/engine"
)

// parseLine accepts either a JSON request or the interactive shorthand
//
//	toxicity=0.9 profanity=0.4 -- optional text to match rules against
func parseLine(line, defaultOrg, defaultKey string) (engine.Request, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		var req engine.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return engine.Request{}, fmt.Errorf("invalid request JSON: %w", err)
		}
		if req.Organization == "" {
			req.Organization = defaultOrg
		}
		if req.ContinuityKey == "" {
			req.ContinuityKey = defaultKey
		}
		return req, nil
	}

	req := engine.Request{Organization: defaultOrg, ContinuityKey: defaultKey}
	scores, text, _ := strings.Cut(line, "--")
	req.Text = strings.TrimSpace(text)

	for _, field := range strings.Fields(scores) {
		name, value, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return engine.Request{}, fmt.Errorf("expected category=score, got %q", field)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return engine.Request{}, fmt.Errorf("score for %s: %w", name, err)
		}
		req.Scores = append(req.Scores, calibration.RawScore{Category: name, Value: v})
	}
	return req, nil
}
