package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ActiveRequests counts llama-server slots that are currently processing.
// Unrecognised response shapes count as zero; only transport failures and
// non-2xx statuses are errors.
func (s *Supervisor) ActiveRequests(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SlotsTimeout)
	defer cancel()
	url := s.BaseURL() + "/slots"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build slots request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("get %s: http %s", url, resp.Status)
	}
	return CountProcessingSlots(body), nil
}

// CountProcessingSlots parses a /slots body: either a bare array of slots
// or an object with a "slots" array. A slot counts when is_processing is
// true or a positive integer, or when state is processing, running or active.
func CountProcessingSlots(body []byte) int {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	var slots []any
	switch t := v.(type) {
	case []any:
		slots = t
	case map[string]any:
		arr, ok := t["slots"].([]any)
		if !ok {
			return 0
		}
		slots = arr
	default:
		return 0
	}
	n := 0
	for _, raw := range slots {
		slot, ok := raw.(map[string]any)
		if ok && slotProcessing(slot) {
			n++
		}
	}
	return n
}

func slotProcessing(slot map[string]any) bool {
	switch v := slot["is_processing"].(type) {
	case bool:
		if v {
			return true
		}
	case json.Number:
		if i, err := v.Int64(); err == nil && i > 0 {
			return true
		}
	}
	if state, ok := slot["state"].(string); ok {
		switch state {
		case "processing", "running", "active":
			return true
		}
	}
	return false
}
