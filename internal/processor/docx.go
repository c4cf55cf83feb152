package processor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

var mergeablePart = regexp.MustCompile(`^word/(document|header\d*|footer\d*)\.xml$`)

const lineBreak = `</w:t><w:br/><w:t xml:space="preserve">`

// MergeDOCX replaces placeholders in the body, headers and footers of a
// DOCX archive and returns the new archive. Placeholders split across runs
// by Word are matched; the surrounding markup is kept.
func MergeDOCX(docx []byte, values map[string]string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "" {
			keys = append(keys, k)
		}
	}
	// Longest first so a token never matches as the prefix of a longer one.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	var out bytes.Buffer
	writer := zip.NewWriter(&out)
	for _, file := range reader.File {
		content, err := readZipFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		if mergeablePart.MatchString(file.Name) {
			content = []byte(replaceInXML(string(content), values, keys))
		}

		w, err := writer.CreateHeader(&zip.FileHeader{
			Name:     file.Name,
			Method:   file.Method,
			Modified: file.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize docx archive: %w", err)
	}
	return out.Bytes(), nil
}

// DocumentText returns the visible text of the body, headers and footers,
// one line per paragraph.
func DocumentText(docx []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}

	var b strings.Builder
	for _, file := range reader.File {
		if !mergeablePart.MatchString(file.Name) {
			continue
		}
		content, err := readZipFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		b.WriteString(removeXMLTags(string(content)))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func replaceInXML(content string, values map[string]string, keys []string) string {
	var b strings.Builder
	b.Grow(len(content))

	inTag := false
	for i := 0; i < len(content); {
		c := content[i]
		if c == '<' {
			inTag = true
		}
		if inTag {
			b.WriteByte(c)
			if c == '>' {
				inTag = false
			}
			i++
			continue
		}

		if c == '{' || c == '[' || c == '$' {
			if key, end, ok := matchAny(content, i, keys); ok {
				b.WriteString(encodeValue(values[key]))
				writeTags(&b, content[i:end])
				i = end
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func matchAny(content string, start int, keys []string) (string, int, bool) {
	for _, k := range keys {
		if end, ok := matchAcrossTags(content, start, k); ok {
			return k, end, true
		}
	}
	return "", start, false
}

// matchAcrossTags compares key against the text starting at start, skipping
// markup between characters. A match never crosses a paragraph end.
func matchAcrossTags(content string, start int, key string) (int, bool) {
	maxSpan := len(key)*10 + 2048
	j := 0
	inTag := false
	pos := start
	for pos < len(content) && j < len(key) {
		c := content[pos]
		switch {
		case c == '<':
			if strings.HasPrefix(content[pos:], "</w:p>") {
				return start, false
			}
			inTag = true
		case c == '>':
			inTag = false
		case !inTag:
			if c != key[j] {
				return start, false
			}
			j++
		}
		pos++
		if pos-start > maxSpan {
			return start, false
		}
	}
	return pos, j == len(key)
}

// writeTags keeps the markup of a matched span and drops its text.
func writeTags(b *strings.Builder, span string) {
	inTag := false
	for i := 0; i < len(span); i++ {
		c := span[i]
		if c == '<' {
			inTag = true
		}
		if inTag {
			b.WriteByte(c)
		}
		if c == '>' {
			inTag = false
		}
	}
}

func encodeValue(v string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(v))
	escaped := strings.ReplaceAll(buf.String(), "&#xA;", lineBreak)
	return strings.ReplaceAll(escaped, "\n", lineBreak)
}

func removeXMLTags(content string) string {
	var b strings.Builder
	inTag := false
	tagStart := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '<':
			inTag = true
			tagStart = i
		case c == '>':
			inTag = false
			switch tag := content[tagStart : i+1]; {
			case tag == "</w:p>":
				b.WriteByte('\n')
			case tag == "<w:tab/>":
				b.WriteByte('\t')
			case strings.HasPrefix(tag, "<w:br"):
				b.WriteByte('\n')
			}
		case !inTag:
			b.WriteByte(c)
		}
	}
	return unescapeXML(b.String())
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
