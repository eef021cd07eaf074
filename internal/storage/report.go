package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ReportKey is where a batch summary is archived.
func ReportKey(date time.Time, batchID string) string {
	return fmt.Sprintf("reports/batches/%s/%s.json", date.UTC().Format("2006-01-02"), batchID)
}

// SaveJSON marshals v and uploads it under key.
func SaveJSON(ctx context.Context, s Storage, key string, v any) (*UploadResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return s.UploadFile(ctx, key, bytes.NewReader(data), "application/json")
}
