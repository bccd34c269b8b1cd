package report

import (
	"encoding/json"
	"fmt"

	"github.com/whhaicheng/SchedBench/internal/domain/report"
)

// JSONWriter writes result documents as indented JSON.
type JSONWriter struct{}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter() *JSONWriter {
	return &JSONWriter{}
}

// Format returns the format this writer produces.
func (w *JSONWriter) Format() report.ReportFormat {
	return report.FormatJSON
}

// Encode renders doc. Map keys are emitted in sorted order, so equal
// documents encode to equal bytes.
func (w *JSONWriter) Encode(doc *report.Document) ([]byte, error) {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return append(content, '\n'), nil
}

// WriteFile encodes doc and replaces path atomically.
func (w *JSONWriter) WriteFile(path string, doc *report.Document) error {
	content, err := w.Encode(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, content)
}
