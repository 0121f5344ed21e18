// ABOUTME: Shared helpers for MCP tool handlers
// ABOUTME: Converts interval metadata between typed and map forms
package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/oppflow/models"
)

const timeFormat = time.RFC3339

func metadataFromMap(m map[string]interface{}) (*models.IntervalMetadata, error) {
	if m == nil {
		return nil, nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	var metadata models.IntervalMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	return &metadata, nil
}

func metadataToMap(metadata models.IntervalMetadata) map[string]interface{} {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}

	return m
}
