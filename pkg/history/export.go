package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// exportJSON exports records as a JSON array
func exportJSON(records []Record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports records as newline-delimited JSON
func exportNDJSON(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for i := range records {
		if err := encoder.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports records as CSV; changes are embedded as a JSON object
func exportCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"EntityType",
		"EntityID",
		"Action",
		"PerformedBy",
		"Changes",
		"Notes",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		changes, err := json.Marshal(rec.Changes.Clone())
		if err != nil {
			return nil, fmt.Errorf("failed to encode changes of record %d: %w", rec.ID, err)
		}
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Timestamp.Format(time.RFC3339),
			string(rec.Entity.Type),
			strconv.FormatInt(rec.Entity.ID, 10),
			string(rec.Action),
			formatInt64Ptr(rec.PerformedBy),
			string(changes),
			rec.Notes,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
