package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/avolkov/docvault/internal/core/domain"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Extractor derives the structured metadata record for stored files:
// core filesystem attributes plus a type-specific section picked by MIME
// category. Unsupported types never fail; they just omit the section.
type Extractor struct {
	basePath string
}

func New(basePath string) *Extractor {
	return &Extractor{basePath: basePath}
}

func (e *Extractor) Extract(_ context.Context, relPath string) (*domain.FileMetadata, error) {
	absPath := filepath.Join(e.basePath, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "stat file", err)
		}
		if os.IsPermission(err) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "stat file", err)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}

	// MIME by content sniffing, not extension.
	mtype, err := mimetype.DetectFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("detect mime type: %w", err)
	}
	mimeType := strings.Split(mtype.String(), ";")[0]

	name := filepath.Base(relPath)
	modTime := info.ModTime().UTC()
	meta := &domain.FileMetadata{
		Path:      relPath,
		Filename:  name,
		Extension: strings.ToLower(filepath.Ext(name)),
		MimeType:  mimeType,
		SizeBytes: info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
		// Creation/access times are not portably available from os.Stat;
		// modification time stands in for all three.
		CreatedAt:   modTime,
		ModifiedAt:  modTime,
		AccessedAt:  modTime,
		Permissions: fmt.Sprintf("%03o", info.Mode().Perm()),
		Hidden:      strings.HasPrefix(name, "."),
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		meta.Image = imageSection(absPath)
	case mimeType == "application/pdf":
		meta.PDF = pdfSection(absPath)
	case strings.HasPrefix(mimeType, "text/"):
		meta.Text = textSection(absPath)
	case mimeType == mimeXLSX:
		meta.Spreadsheet = spreadsheetSection(absPath)
	}

	return meta, nil
}

// imageSection decodes only the image header. Formats without a
// registered decoder yield no section rather than an error.
func imageSection(absPath string) *domain.ImageMetadata {
	f, err := os.Open(absPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil
	}
	return &domain.ImageMetadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Mode:   colorMode(cfg),
		Format: format,
	}
}

func colorMode(cfg image.Config) string {
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		return "grayscale"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "rgba"
	case color.CMYKModel:
		return "cmyk"
	case color.YCbCrModel:
		return "ycbcr"
	}
	if _, ok := cfg.ColorModel.(color.Palette); ok {
		return "palette"
	}
	return "rgb"
}

func pdfSection(absPath string) *domain.PDFMetadata {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return &domain.PDFMetadata{Encrypted: true}
		}
		return nil
	}

	section := &domain.PDFMetadata{PageCount: reader.NumPage()}
	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		section.Title = info.Key("Title").Text()
		section.Author = info.Key("Author").Text()
		section.Subject = info.Key("Subject").Text()
	}
	if !reader.Trailer().Key("Encrypt").IsNull() {
		section.Encrypted = true
	}
	return section
}

func textSection(absPath string) *domain.TextMetadata {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil
	}

	encoding := "utf-8"
	if !utf8.Valid(raw) {
		encoding = "binary"
	}
	content := string(raw)
	return &domain.TextMetadata{
		LineCount: len(strings.Split(content, "\n")),
		WordCount: len(strings.Fields(content)),
		CharCount: utf8.RuneCountInString(content),
		Encoding:  encoding,
	}
}

func spreadsheetSection(absPath string) *domain.SpreadsheetMetadata {
	f, err := excelize.OpenFile(absPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	sheets := f.GetSheetList()
	section := &domain.SpreadsheetMetadata{
		SheetCount: len(sheets),
		SheetNames: sheets,
	}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		section.Creator = props.Creator
	}
	return section
}
