// Package pdf implements a small single-font PDF writer sufficient for
// text invoices. It emits PDF 1.4 with Helvetica and a correct xref table.
package pdf

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	pageWidth    = 595 // A4 in points
	pageHeight   = 842
	marginLeft   = 56
	marginTop    = 56
	marginBottom = 56
	leading      = 16
)

// Line is one rendered row of text.
type Line struct {
	Text string
	Size int
	Bold bool
}

// Document accumulates lines and renders them into paginated PDF bytes.
type Document struct {
	lines []Line
}

func NewDocument() *Document {
	return &Document{}
}

// AddLine appends a regular 11pt text row.
func (d *Document) AddLine(text string) {
	d.lines = append(d.lines, Line{Text: text, Size: 11})
}

// AddHeading appends a larger bold row.
func (d *Document) AddHeading(text string) {
	d.lines = append(d.lines, Line{Text: text, Size: 16, Bold: true})
}

// AddSubheading appends a medium bold row.
func (d *Document) AddSubheading(text string) {
	d.lines = append(d.lines, Line{Text: text, Size: 12, Bold: true})
}

// AddBlank appends an empty spacer row.
func (d *Document) AddBlank() {
	d.lines = append(d.lines, Line{Text: "", Size: 11})
}

// Render produces the finished PDF.
func (d *Document) Render() []byte {
	pages := paginate(d.lines)
	if len(pages) == 0 {
		pages = [][]Line{nil}
	}

	// Object layout: 1 catalog, 2 pages root, 3 regular font, 4 bold font,
	// then per page one page object and one content stream.
	objects := make([]string, 0, 4+2*len(pages))
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, 0, len(pages))
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 5+2*i))
	}
	objects = append(objects, fmt.Sprintf(
		"<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages),
	))
	objects = append(objects,
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold >>",
	)

	for i, page := range pages {
		contentRef := 6 + 2*i
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
				"/Resources << /Font << /F1 3 0 R /F2 4 0 R >> >> /Contents %d 0 R >>",
			pageWidth, pageHeight, contentRef,
		))
		stream := renderContent(page)
		objects = append(objects, fmt.Sprintf(
			"<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream,
		))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf,
		"trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart,
	)

	return buf.Bytes()
}

func paginate(lines []Line) [][]Line {
	usable := pageHeight - marginTop - marginBottom
	perPage := usable / leading
	if perPage < 1 {
		perPage = 1
	}
	var pages [][]Line
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

func renderContent(lines []Line) string {
	var b strings.Builder
	y := pageHeight - marginTop
	for _, line := range lines {
		if line.Text != "" {
			font := "F1"
			if line.Bold {
				font = "F2"
			}
			fmt.Fprintf(&b, "BT /%s %d Tf %d %d Td (%s) Tj ET\n",
				font, line.Size, marginLeft, y, escapeText(line.Text))
		}
		y -= leading
	}
	return strings.TrimRight(b.String(), "\n")
}

// escapeText protects PDF string delimiters and folds non-Latin1 runes.
func escapeText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n', '\r':
			b.WriteByte(' ')
		default:
			if r > 0xFF {
				b.WriteByte('?')
				continue
			}
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
