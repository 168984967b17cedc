package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoTextLayer is returned when a PDF yields no extractable text. Scanned
// enrollment forms and faxed rosters often have no text layer at all; those
// need the mistral provider instead.
var ErrNoTextLayer = eris.New("ocr: pdf has no extractable text layer")

// PdfToText extracts text from provider documents with the poppler
// pdftotext binary. It is the cheap local path for digitally generated
// PDFs (exported rosters, typed CVs).
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a local extractor. An empty binPath resolves
// "pdftotext" from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText converts the document at pdfPath to plain text on stdout.
// -layout preserves the column structure of roster tables so downstream
// schema-filling can still associate names with NPIs; -nopgbrk drops the
// form-feed separators that otherwise leak into prompts.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-nopgbrk", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	text := stdout.String()
	if strings.TrimSpace(text) == "" {
		return "", eris.Wrapf(ErrNoTextLayer, "ocr: %s", pdfPath)
	}
	return text, nil
}
