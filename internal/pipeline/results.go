package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/yamnet/internal/classify"
)

// Result document statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type successDoc struct {
	Status      string                `json:"status"`
	Timestamp   int64                 `json:"timestamp"`
	Predictions []classify.Prediction `json:"predictions"`
}

type errorDoc struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SuccessResults encodes the analysis_results document for a successful
// classification. Labels are NFC-normalized and HTML characters are left
// unescaped so the stored text is byte-stable.
func SuccessResults(timestampMS int64, preds []classify.Prediction) (string, error) {
	out := make([]classify.Prediction, len(preds))
	for i, p := range preds {
		p.Label = norm.NFC.String(p.Label)
		out[i] = p
	}
	return encodeDoc(successDoc{Status: StatusSuccess, Timestamp: timestampMS, Predictions: out})
}

// ErrorResults encodes the analysis_results document for a failed
// classification.
func ErrorResults(cause error) string {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	s, err := encodeDoc(errorDoc{Status: StatusError, Message: norm.NFC.String(msg)})
	if err != nil {
		// A two-string struct cannot fail to encode.
		return `{"status":"error","message":"unencodable error"}`
	}
	return s
}

// Document is a decoded analysis_results document of either status.
type Document struct {
	Status      string                `json:"status"`
	Timestamp   int64                 `json:"timestamp,omitempty"`
	Predictions []classify.Prediction `json:"predictions,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// ParseResults decodes a stored analysis_results document.
func ParseResults(s string) (Document, error) {
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Document{}, fmt.Errorf("decode results: %w", err)
	}
	if d.Status != StatusSuccess && d.Status != StatusError {
		return Document{}, fmt.Errorf("decode results: unknown status %q", d.Status)
	}
	return d, nil
}

func encodeDoc(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
