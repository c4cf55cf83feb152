package services

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"documerge/internal/models"
	"documerge/internal/processor"
	"documerge/internal/storage"

	fitz "github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

type docxExporter interface {
	ExportDOCX(ctx context.Context, docURL string) ([]byte, error)
}

type pdfConverter interface {
	ConvertDOCX(ctx context.Context, docx []byte, filename string) ([]byte, error)
}

// PageCounter reports how many pages a PDF has.
type PageCounter func(pdf []byte) (int, error)

// RenderResult describes a stored PDF.
type RenderResult struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	ObjectName  string `json:"-"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages"`
}

// Renderer merges a record into a template document and stores the PDF.
type Renderer struct {
	documents docxExporter
	pdf       pdfConverter
	store     storage.ArtifactStore
	pages     PageCounter
	log       *zap.Logger
}

func NewRenderer(documents docxExporter, pdf pdfConverter, store storage.ArtifactStore, log *zap.Logger) *Renderer {
	return &Renderer{
		documents: documents,
		pdf:       pdf,
		store:     store,
		pages:     CountPDFPages,
		log:       log.With(zap.String("service", "Renderer")),
	}
}

// WithPageCounter replaces the go-fitz page counter.
func (r *Renderer) WithPageCounter(pc PageCounter) *Renderer {
	r.pages = pc
	return r
}

// Generate renders one record. The artifact is stored under generationID.
func (r *Renderer) Generate(ctx context.Context, generationID string, t *models.Template, record *models.Record) (*RenderResult, error) {
	if err := t.CheckReady(); err != nil {
		return nil, err
	}

	docx, err := r.documents.ExportDOCX(ctx, t.GoogleDocURL)
	if err != nil {
		return nil, fmt.Errorf("failed to export template document: %w", err)
	}

	// Placeholders present in the document but never mapped still have to
	// disappear from the output.
	text, err := processor.DocumentText(docx)
	if err != nil {
		return nil, fmt.Errorf("failed to read template document: %w", err)
	}

	values := processor.BuildSubstitutions(t, record, processor.ExtractPlaceholders(text))
	merged, err := processor.MergeDOCX(docx, values)
	if err != nil {
		return nil, fmt.Errorf("failed to merge record into document: %w", err)
	}

	filename := OutputFilename(t.Name, record.ID)
	pdf, err := r.pdf.ConvertDOCX(ctx, merged, strings.TrimSuffix(filename, ".pdf")+".docx")
	if err != nil {
		return nil, fmt.Errorf("failed to convert document to PDF: %w", err)
	}

	pages, err := r.pages(pdf)
	if err != nil {
		r.log.Warn("page count failed", zap.String("filename", filename), zap.Error(err))
		pages = 0
	}

	objectName := storage.GenerateObjectName(generationID, filename)
	stored, err := r.store.Save(ctx, objectName, bytes.NewReader(pdf), "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to store PDF: %w", err)
	}

	r.log.Info("document rendered",
		zap.String("template_id", t.ID),
		zap.String("record_id", record.ID),
		zap.String("object", stored.Name),
		zap.Int64("size", stored.Size),
		zap.Int("pages", pages))

	return &RenderResult{
		Filename:    filename,
		DownloadURL: stored.URL,
		ObjectName:  stored.Name,
		Size:        stored.Size,
		Pages:       pages,
	}, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// OutputFilename is "{template name with whitespace as _}_{recordId}.pdf".
func OutputFilename(templateName, recordID string) string {
	name := whitespaceRun.ReplaceAllString(strings.TrimSpace(templateName), "_")
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("%s_%s.pdf", name, recordID)
}

// CountPDFPages opens the PDF with MuPDF.
func CountPDFPages(pdf []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
