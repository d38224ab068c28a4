// Package export renders a session transcript as a printable document.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"omni-library/internal/domain"
)

const defaultTitle = "The Omni-Library"

// TranscriptPDF writes the transcript to w as an A4 PDF. Player commands are
// set apart from narration; text outside cp1252 is replaced.
func TranscriptPDF(w io.Writer, title string, turns []domain.ConversationTurn) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Times", "B", 20)
	pdf.MultiCell(0, 10, tr(title), "", "C", false)
	pdf.Ln(6)

	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		if turn.Speaker == domain.SpeakerUser {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetTextColor(90, 70, 40)
			pdf.MultiCell(0, 6, tr("> "+text), "", "L", false)
		} else {
			pdf.SetFont("Times", "", 12)
			pdf.SetTextColor(20, 20, 20)
			pdf.MultiCell(0, 6, tr(text), "", "J", false)
		}
		pdf.Ln(3)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: render pdf: %w", err)
	}
	return nil
}
