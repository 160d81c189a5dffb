package storage

import (
	"encoding/json"
	"fmt"
)

// EncodeKeywords serializes related keywords for a text column.
func EncodeKeywords(keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return "", fmt.Errorf("encode keywords: %w", err)
	}
	return string(b), nil
}

// DecodeKeywords parses a keyword column written by EncodeKeywords.
func DecodeKeywords(s string) ([]string, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(s), &keywords); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	return keywords, nil
}

// ClampImportance bounds an importance score to [0, 1].
func ClampImportance(score float64) float64 {
	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
