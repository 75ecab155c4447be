package archive

import (
	"strings"

	"voice-ingest/internal/domain/model"
)

// SidecarRow is the optional metadata attached to one audio file.
type SidecarRow struct {
	Transcript *string
	Speaker    *string
	Tone       *model.Tone
}

// ParseSidecar reads a filename,transcript,speaker[,tone] table. The header row
// is always skipped and rows with fewer than three fields are ignored.
func ParseSidecar(text string) map[string]SidecarRow {
	out := map[string]SidecarRow{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) < 3 {
			continue
		}
		name := unquote(fields[0])
		if name == "" {
			continue
		}
		row := SidecarRow{
			Transcript: optional(unquote(fields[1])),
			Speaker:    optional(unquote(fields[2])),
		}
		if len(fields) > 3 {
			if tone, ok := model.ParseTone(unquote(fields[3])); ok {
				row.Tone = &tone
			}
		}
		out[name] = row
	}
	return out
}

// splitFields is a minimal quoted-field splitter: '"' toggles quoting and a
// comma outside quotes ends the field.
func splitFields(line string) []string {
	var (
		fields   []string
		cur      strings.Builder
		inQuotes bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
