package converter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Ghostscript compresses PDFs by rewriting them through gs with a
// downsampling preset per compression level.
type Ghostscript struct {
	bin string
	log Logger
}

// NewGhostscript creates the pdf-compress collaborator
func NewGhostscript(log Logger) *Ghostscript {
	return &Ghostscript{bin: "gs", log: log}
}

// presets maps compression levels to gs -dPDFSETTINGS values
var presets = map[string]string{
	"low":    "/prepress",
	"medium": "/ebook",
	"high":   "/screen",
}

// Convert rewrites the PDF at options["compression_level"]
// (low|medium|high, default medium)
func (g *Ghostscript) Convert(ctx context.Context, input []byte, options map[string]any, progress ProgressFunc) ([]byte, error) {
	level := stringOption(options, "compression_level", "medium")
	preset, ok := presets[level]
	if !ok {
		return nil, NewError(ToolPDFCompress, fmt.Sprintf("unknown compression level %q", level), nil)
	}

	dir, err := os.MkdirTemp("", "pdfcompress")
	if err != nil {
		return nil, NewError(ToolPDFCompress, "could not create temp dir", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.pdf")
	outPath := filepath.Join(dir, "output.pdf")

	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, NewError(ToolPDFCompress, "could not write temp input", err)
	}

	if progress != nil {
		progress(10)
	}

	cmd := exec.CommandContext(ctx, g.bin,
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS="+preset,
		"-dNOPAUSE", "-dBATCH",
		"-sOutputFile="+outPath,
		inPath,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewError(ToolPDFCompress, "could not attach to gs", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, NewError(ToolPDFCompress, "could not start gs", err)
	}

	// gs prints "Page N" per page; total is unknown up front, so report
	// coarse forward progress capped below completion
	go func() {
		scanner := bufio.NewScanner(stdout)
		pct := 10
		for scanner.Scan() {
			if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "Page ") {
				if pct < 90 {
					pct += 5
				}
				if progress != nil {
					progress(pct)
				}
			}
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(ToolPDFCompress, "gs exited with error", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, NewError(ToolPDFCompress, "compressed file not found", err)
	}

	if progress != nil {
		progress(100)
	}

	g.log.Debug("pdf compressed",
		"level", level,
		"input_size", len(input),
		"output_size", len(out),
	)

	return out, nil
}
