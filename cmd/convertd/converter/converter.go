// Package converter holds the conversion collaborators. The lifecycle
// core treats every Converter as an opaque, potentially slow, potentially
// failing routine; it never inspects the transformation itself.
package converter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Tool identifiers
const (
	ToolImageCompress = "image-compress"
	ToolPDFCompress   = "pdf-compress"
	ToolDocxToPDF     = "docx-to-pdf"
	ToolXlsxToPDF     = "xlsx-to-pdf"
)

// ProgressFunc receives 0-100 progress updates from a running conversion
type ProgressFunc func(percent int)

// Converter runs one transformation on an input payload
type Converter interface {
	Convert(ctx context.Context, input []byte, options map[string]any, progress ProgressFunc) ([]byte, error)
}

// Error is a structured conversion failure
type Error struct {
	Tool    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s conversion failed: %s", e.Tool, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a conversion error with an optional cause
func NewError(tool, message string, cause error) *Error {
	return &Error{Tool: tool, Message: message, cause: cause}
}

// Entry binds a converter to the upload constraints of its tool
type Entry struct {
	Converter Converter

	// TargetExt is the extension of the result ("" keeps the original's)
	TargetExt string

	// AllowedTypes are the MIME types accepted for uploads to this tool
	AllowedTypes []string
}

// Registry maps tool identifiers to converters
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a tool entry
func (r *Registry) Register(tool string, entry Entry) {
	r.entries[tool] = entry
}

// Lookup returns the entry for a tool
func (r *Registry) Lookup(tool string) (Entry, bool) {
	entry, ok := r.entries[tool]
	return entry, ok
}

// Accepts reports whether the tool exists and allows the content type
func (r *Registry) Accepts(tool, contentType string) (known, allowed bool) {
	entry, ok := r.entries[tool]
	if !ok {
		return false, false
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range entry.AllowedTypes {
		if t == ct {
			return true, true
		}
	}
	return true, false
}

// Default builds the registry with the built-in collaborators
func Default(log Logger) *Registry {
	r := NewRegistry()
	r.Register(ToolImageCompress, Entry{
		Converter: NewImageCompressor(log),
		TargetExt: "jpg",
		AllowedTypes: []string{
			"image/jpeg", "image/png", "image/webp", "image/gif",
		},
	})
	r.Register(ToolPDFCompress, Entry{
		Converter:    NewGhostscript(log),
		AllowedTypes: []string{"application/pdf"},
	})
	r.Register(ToolDocxToPDF, Entry{
		Converter: NewLibreOffice(log),
		TargetExt: "pdf",
		AllowedTypes: []string{
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/msword",
		},
	})
	r.Register(ToolXlsxToPDF, Entry{
		Converter: NewLibreOffice(log),
		TargetExt: "pdf",
		AllowedTypes: []string{
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-excel",
		},
	})
	return r
}

// Logger is the subset of logging used by converters
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// OutputFilename derives the result filename from the original, stamping
// the conversion date and swapping the extension when the tool changes it
func OutputFilename(original, targetExt string, now time.Time) string {
	name := original
	ext := ""
	if i := strings.LastIndex(original, "."); i > 0 {
		name = original[:i]
		ext = original[i+1:]
	}
	if targetExt != "" {
		ext = targetExt
	}
	stamp := now.Format("02012006")
	if ext == "" {
		return fmt.Sprintf("%s_converted_%s", name, stamp)
	}
	return fmt.Sprintf("%s_converted_%s.%s", name, stamp, ext)
}

// stringOption reads a string option with a default
func stringOption(options map[string]any, key, fallback string) string {
	if options == nil {
		return fallback
	}
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intOption reads an int option with a default; JSON decodes numbers as
// float64, so both are accepted
func intOption(options map[string]any, key string, fallback int) int {
	if options == nil {
		return fallback
	}
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
