package storage

import (
	"fmt"
	"strings"
	"time"
)

// ReportPathParams identify a population report object.
type ReportPathParams struct {
	Prefix     string
	DatabaseID string
	RunID      string
	At         time.Time
}

// BuildReportPath composes "{prefix}/{databaseID}/{yyyy}/{mm}/{dd}/{runID}.json". The prefix may
// contain slashes; the other segments may not.
func BuildReportPath(params ReportPathParams) (string, error) {
	databaseID, err := validateSegment("databaseID", params.DatabaseID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(strings.TrimSpace(params.RunID) + ".json")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(params.RunID) == "" {
		return "", fmt.Errorf("storage: runID is required")
	}
	if params.At.IsZero() {
		return "", fmt.Errorf("storage: report time is required")
	}

	prefix := strings.Trim(strings.TrimSpace(params.Prefix), "/")
	if strings.Contains(prefix, "..") || strings.Contains(prefix, "\\") {
		return "", fmt.Errorf("storage: prefix contains invalid path characters")
	}

	at := params.At.UTC()
	path := fmt.Sprintf("%s/%04d/%02d/%02d/%s", databaseID, at.Year(), int(at.Month()), at.Day(), fileName)
	if prefix != "" {
		path = prefix + "/" + path
	}
	return path, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
