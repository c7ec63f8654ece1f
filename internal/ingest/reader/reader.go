// Package reader extracts plain text from the document formats the
// ingestion pipeline accepts (spec §4.9 "Process"): .docx, .pdf, and plain
// text/markdown. Each reader returns the document's title (derived from the
// filename) and its full text content; streaming-capable formats also
// expose a Sections iterator used by the large-file path.
package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Section is one structural unit of a streamed document (spec §4.9
// "streaming path"): a paragraph, heading, or table, in document order.
type Section struct {
	Content string
	Type    string // "paragraph" | "heading" | "table"
	Position int
}

// Document is the result of a non-streaming read: the whole file as one
// string, plus a human-readable title.
type Document struct {
	Title   string
	Content string
}

var whitespaceRe = regexp.MustCompile(`\s+`)
var repeatedDotsRe = regexp.MustCompile(`\.{3,}`)
var repeatedDashRe = regexp.MustCompile(`-{3,}`)
var emptyParensRe = regexp.MustCompile(`\(\s*\)`)
var emptyBracketsRe = regexp.MustCompile(`\[\s*\]`)

// Compress removes redundant whitespace and punctuation runs, mirroring the
// streaming processor's pre-chunk cleanup (spec §4.9).
func Compress(content string) string {
	content = whitespaceRe.ReplaceAllString(content, " ")
	content = repeatedDotsRe.ReplaceAllString(content, "...")
	content = repeatedDashRe.ReplaceAllString(content, "---")
	content = emptyParensRe.ReplaceAllString(content, "")
	content = emptyBracketsRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// titleFromPath derives a document title from a filename, stripping the
// extension and any leading "NN_" order prefix.
func titleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.IndexByte(base, '_'); i > 0 && strings.Trim(base[:i], "0123456789") == "" {
		base = base[i+1:]
	}
	base = strings.ReplaceAll(base, "_", " ")
	return strings.TrimSpace(base)
}

// Read extracts a Document from path, dispatching on its extension.
func Read(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return readDOCX(path)
	case ".pdf":
		return readPDF(path)
	default:
		return readText(path)
	}
}

// Sections extracts a document's content as a position-ordered slice of
// Sections, for formats that carry inherent structure (paragraphs/headings/
// tables). Plain text/markdown yields a single paragraph section.
func Sections(path string) ([]Section, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return sectionsDOCX(path)
	default:
		doc, err := Read(path)
		if err != nil {
			return nil, err
		}
		return []Section{{Content: doc.Content, Type: "paragraph", Position: 0}}, nil
	}
}

func readText(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reader: read %s: %w", path, err)
	}
	return Document{Title: titleFromPath(path), Content: string(b)}, nil
}

func readDOCX(path string) (Document, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reader: open docx %s: %w", path, err)
	}
	defer r.Close()
	content := r.Editable().GetContent()
	return Document{Title: titleFromPath(path), Content: stripDOCXMarkup(content)}, nil
}

// docxParagraphRe splits the library's flattened XML-ish text content back
// into paragraph boundaries; nguyenthenguyen/docx exposes raw markup rather
// than a paragraph tree.
var docxParagraphRe = regexp.MustCompile(`<[^>]+>`)

func stripDOCXMarkup(raw string) string {
	return strings.TrimSpace(docxParagraphRe.ReplaceAllString(raw, "\n"))
}

func sectionsDOCX(path string) ([]Section, error) {
	doc, err := readDOCX(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(doc.Content, "\n")
	var out []Section
	pos := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sectionType := "paragraph"
		if isHeadingLine(line) {
			sectionType = "heading"
		}
		out = append(out, Section{Content: line, Type: sectionType, Position: pos})
		pos += len(line)
	}
	return out, nil
}

func isHeadingLine(line string) bool {
	return len(line) < 120 && !strings.HasSuffix(line, ".") && strings.ToUpper(line) == line && line != strings.ToLower(line)
}

func readPDF(path string) (Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("reader: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return Document{Title: titleFromPath(path), Content: sb.String()}, nil
}
