package results

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteFile writes a report to a JSON file
func WriteFile(report *Report, filename string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// ReadFile reads a report from a JSON file
func ReadFile(filename string) (*Report, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}

	return &report, nil
}

// ToJSON converts a report to a JSON string
func ToJSON(report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON parses a report from a JSON string
func FromJSON(jsonStr string) (*Report, error) {
	var report Report
	if err := json.Unmarshal([]byte(jsonStr), &report); err != nil {
		return nil, err
	}
	return &report, nil
}
