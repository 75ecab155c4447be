// Package archive extracts audio payloads and their sidecar metadata from bulk uploads.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"voice-ingest/internal/domain"
)

const (
	DefaultAudioExt   = ".mp3"
	DefaultSidecarExt = ".csv"
)

// Entry is one audio file pulled out of an archive.
type Entry struct {
	Path string // full path inside the archive
	Name string // basename, the join key into the sidecar
	Data []byte
	Meta *SidecarRow
}

// Bundle is the parsed content of an archive.
type Bundle struct {
	Entries []Entry
	// Sidecar is nil when the archive had no usable metadata table.
	Sidecar map[string]SidecarRow
}

type Parser struct {
	audioExts     []string
	maxEntryBytes int64
	log           *zerolog.Logger
}

// NewParser builds a parser accepting the given audio extensions (".mp3" when empty).
// maxEntryBytes <= 0 disables the per-entry size guard.
func NewParser(audioExts []string, maxEntryBytes int64, logger *zerolog.Logger) *Parser {
	exts := make([]string, 0, len(audioExts))
	for _, e := range audioExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	if len(exts) == 0 {
		exts = []string{DefaultAudioExt}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ArchiveParser").Logger()
	return &Parser{audioExts: exts, maxEntryBytes: maxEntryBytes, log: &l}
}

// Parse reads a zip archive. It fails with domain.ErrInvalidArchive when the
// archive can't be read or holds no audio entries; sidecar problems never fail it.
func (p *Parser) Parse(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err)
	}

	bundle := &Bundle{Sidecar: p.readSidecar(zr.File)}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || isPlatformMetadata(f.Name) || !p.isAudio(f.Name) {
			continue
		}
		if p.maxEntryBytes > 0 && f.UncompressedSize64 > uint64(p.maxEntryBytes) {
			p.log.Warn().Str("entry", f.Name).Uint64("size", f.UncompressedSize64).Msg("skipping oversized audio entry")
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			p.log.Warn().Err(err).Str("entry", f.Name).Msg("skipping unreadable audio entry")
			continue
		}
		name := path.Base(f.Name)
		e := Entry{Path: f.Name, Name: name, Data: b}
		if row, ok := bundle.Sidecar[name]; ok {
			r := row
			e.Meta = &r
		}
		bundle.Entries = append(bundle.Entries, e)
	}

	if len(bundle.Entries) == 0 {
		return nil, domain.ErrInvalidArchive
	}
	p.log.Debug().Int("entries", len(bundle.Entries)).Int("sidecar_rows", len(bundle.Sidecar)).Msg("archive parsed")
	return bundle, nil
}

// readSidecar consults only the first top-level table found.
func (p *Parser) readSidecar(files []*zip.File) map[string]SidecarRow {
	for _, f := range files {
		if f.FileInfo().IsDir() || isPlatformMetadata(f.Name) {
			continue
		}
		// Only a table at the archive root describes the audio entries.
		if strings.Contains(f.Name, "/") {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), DefaultSidecarExt) {
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			p.log.Warn().Err(err).Str("entry", f.Name).Msg("sidecar unreadable; continuing without metadata")
			return nil
		}
		rows := ParseSidecar(string(b))
		if len(rows) == 0 {
			return nil
		}
		return rows
	}
	return nil
}

func (p *Parser) isAudio(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range p.audioExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}

// isPlatformMetadata matches macOS resource forks and Finder droppings.
func isPlatformMetadata(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, "._") || base == ".DS_Store"
}

var mimeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
}

// MimeTypeFor maps a filename to the content type used for the blob upload.
func MimeTypeFor(filename string) string {
	if m, ok := mimeByExt[strings.ToLower(path.Ext(filename))]; ok {
		return m
	}
	return "application/octet-stream"
}
