package converter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// LibreOffice renders office documents (docx, xlsx) to PDF through a
// headless libreoffice subprocess. Used by both document tools; the input
// format is detected by libreoffice itself.
type LibreOffice struct {
	bin string
	log Logger
}

// NewLibreOffice creates the document-to-pdf collaborator
func NewLibreOffice(log Logger) *LibreOffice {
	return &LibreOffice{bin: "libreoffice", log: log}
}

// Convert renders the document to PDF
func (l *LibreOffice) Convert(ctx context.Context, input []byte, options map[string]any, progress ProgressFunc) ([]byte, error) {
	dir, err := os.MkdirTemp("", "doc2pdf")
	if err != nil {
		return nil, NewError(ToolDocxToPDF, "could not create temp dir", err)
	}
	defer os.RemoveAll(dir)

	// libreoffice names the output after the input basename
	inPath := filepath.Join(dir, "document")
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, NewError(ToolDocxToPDF, "could not write temp input", err)
	}

	if progress != nil {
		progress(10)
	}

	cmd := exec.CommandContext(ctx, l.bin,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", dir,
		inPath,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(ToolDocxToPDF, "libreoffice failed: "+string(out), err)
	}

	if progress != nil {
		progress(80)
	}

	result, err := os.ReadFile(filepath.Join(dir, "document.pdf"))
	if err != nil {
		return nil, NewError(ToolDocxToPDF, "converted file not found", err)
	}

	if progress != nil {
		progress(100)
	}

	l.log.Debug("document converted to pdf",
		"input_size", len(input),
		"output_size", len(result),
	)

	return result, nil
}
