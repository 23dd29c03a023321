package executor

import (
	"encoding/csv"
	"fmt"
	"os"
)

// writeSeedFile writes a CSV holding only a header row of columns into dir.
// The caller removes the file.
func writeSeedFile(dir string, columns []string) (string, error) {
	f, err := os.CreateTemp(dir, "seed-*.csv")
	if err != nil {
		return "", fmt.Errorf("create seed file: %w", err)
	}
	path := f.Name()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write seed header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("flush seed file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close seed file: %w", err)
	}
	return path, nil
}
