package app

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"whale-relay/internal/storage"
)

func writeKeysCSV(path string, entries []storage.DedupEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create csv directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"key", "claimed_at", "expires_at"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Key,
			e.ClaimedAt.UTC().Format(time.RFC3339Nano),
			e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
