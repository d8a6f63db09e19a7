// Package docx builds a minimal WordprocessingML (.docx) document from
// Markdown text by a fixed set of line-oriented rules, without pulling in
// a full document-model library — no OOXML/docx generation library was
// found anywhere in the reference corpus, so this package writes the
// Office Open XML container directly with the standard library's
// archive/zip and encoding/xml.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

const (
	contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

	rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

	documentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
`
	documentFooter = `  </w:body>
</w:document>`
)

var (
	headingRe = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)
	bulletRe  = regexp.MustCompile(`^[-*]\s+(.*)$`)
	orderedRe = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// FromMarkdown renders md into a complete .docx file's bytes.
func FromMarkdown(md string) ([]byte, error) {
	body := renderBody(md)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", rootRelsXML},
		{"word/document.xml", documentHeader + body + documentFooter},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("docx: create %s: %w", f.name, err)
		}
		if _, err := w.Write([]byte(f.content)); err != nil {
			return nil, fmt.Errorf("docx: write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("docx: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func renderBody(md string) string {
	lines := strings.Split(md, "\n")
	var b strings.Builder
	for _, line := range lines {
		switch {
		case line == "":
			b.WriteString(paragraph(nil, ""))
		case headingRe.MatchString(line):
			m := headingRe.FindStringSubmatch(line)
			level := len(m[1])
			b.WriteString(heading(level, m[2]))
		case bulletRe.MatchString(line):
			m := bulletRe.FindStringSubmatch(line)
			b.WriteString(paragraph(&listIndent, m[1]))
		case orderedRe.MatchString(line):
			m := orderedRe.FindStringSubmatch(line)
			b.WriteString(paragraph(&listIndent, m[1]))
		default:
			b.WriteString(paragraph(nil, line))
		}
	}
	return b.String()
}

var listIndent = 720 // twentieths of a point; 0.5in left indent

func heading(level int, text string) string {
	style := fmt.Sprintf("Heading%d", level)
	return fmt.Sprintf(`    <w:p>
      <w:pPr><w:pStyle w:val=%s/></w:pPr>
%s    </w:p>
`, attr(style), runs(text))
}

func paragraph(indent *int, text string) string {
	var pPr string
	if indent != nil {
		pPr = fmt.Sprintf(`      <w:pPr><w:ind w:left=%s/></w:pPr>
`, attr(fmt.Sprintf("%d", *indent)))
	}
	return fmt.Sprintf(`    <w:p>
%s%s    </w:p>
`, pPr, runs(text))
}

// runs splits text on **bold** spans and emits one <w:r> per span, bold
// spans carrying <w:b/>.
func runs(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	last := 0
	for _, m := range boldRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			b.WriteString(run(text[last:m[0]], false))
		}
		b.WriteString(run(text[m[2]:m[3]], true))
		last = m[1]
	}
	if last < len(text) {
		b.WriteString(run(text[last:], false))
	}
	return b.String()
}

func run(text string, bold bool) string {
	rPr := ""
	if bold {
		rPr = "<w:rPr><w:b/></w:rPr>"
	}
	return fmt.Sprintf(`      <w:r>%s<w:t xml:space="preserve">%s</w:t></w:r>
`, rPr, escapeXML(text))
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func attr(v string) string {
	return fmt.Sprintf("%q", v)
}
