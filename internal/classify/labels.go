package classify

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ReadLabels reads one label per line. Lines are trimmed and NFC-normalized
// so that the same class name always serializes to the same bytes.
func ReadLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, norm.NFC.String(strings.TrimSpace(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// LoadLabels reads the label file at path.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLabels(f)
}

// SyntheticLabels returns "Class 0" .. "Class n-1", used when the label
// file is missing.
func SyntheticLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("Class %d", i)
	}
	return labels
}
