package utils

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSONObject parses a JSON object, repairing the input with jsonrepair
// when strict unmarshaling fails. Streams cut off mid tool-input routinely
// leave unbalanced braces or trailing commas; repair recovers what it can.
//
// An empty string parses to an empty object.
func ParseJSONObject(content string) (map[string]interface{}, error) {
	if content == "" {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(content)
	if repairErr != nil {
		return nil, fmt.Errorf("unparseable JSON object and repair failed: %w", repairErr)
	}

	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, fmt.Errorf("unmarshal repaired JSON: %w", err)
	}

	return result, nil
}
