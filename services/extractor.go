package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/ledongthuc/pdf"
	"google.golang.org/api/option"

	"athena-rag-backend/internal/config"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/models"
)

// ErrExtraction marks a document whose bytes cannot yield text. The queue
// treats it as permanent and does not retry the task.
var ErrExtraction = errors.New("extractor: could not extract text")

// PageExtractor pulls per-page text out of a PDF. The native reader is
// tried first; scanned or image-heavy documents that yield almost no text
// fall back to a Gemini file upload with page markers.
type PageExtractor struct {
	config       *config.Config
	geminiClient *genai.Client
}

func NewPageExtractor(cfg *config.Config) *PageExtractor {
	return &PageExtractor{config: cfg}
}

// minTextPerPage is the average character count below which a native
// extraction is considered a scan and handed to the fallback.
const minTextPerPage = 20

var pageMarkerPattern = regexp.MustCompile(`(?m)^--- PAGE (\d+) ---\s*$`)

// ExtractPages returns the document's pages in order, 1-based. An error
// wrapping ErrExtraction means no method produced usable text.
func (e *PageExtractor) ExtractPages(ctx context.Context, filePath string) ([]models.Page, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", ErrExtraction, err)
	}
	if stat.Size() > e.config.MaxFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrExtraction, e.config.MaxFileSize)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrExtraction, err)
	}

	pages, nativeErr := e.extractNative(content)
	if nativeErr == nil && !looksScanned(pages) {
		return pages, nil
	}
	if nativeErr != nil {
		logger.Warn("Native PDF extraction failed, trying Gemini", "file", filePath, "error", nativeErr)
	} else {
		logger.Info("Native extraction yielded almost no text, trying Gemini", "file", filePath)
	}

	fallback, geminiErr := e.extractWithGemini(ctx, content)
	if geminiErr != nil {
		if nativeErr == nil && len(pages) > 0 {
			// Low-text but real pages beat a failed fallback.
			return pages, nil
		}
		return nil, fmt.Errorf("%w: native: %v; gemini: %v", ErrExtraction, nativeErr, geminiErr)
	}
	return fallback, nil
}

func (e *PageExtractor) extractNative(content []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	pages := make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			fonts := make(map[string]*pdf.Font)
			extracted, err := page.GetPlainText(fonts)
			if err != nil {
				logger.Warn("Failed to extract page text", "page", i, "error", err)
			} else {
				text = extracted
			}
		}
		// Pages keep their position even when empty so page numbers in
		// citations line up with the reader's copy of the document.
		pages = append(pages, models.Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}

func looksScanned(pages []models.Page) bool {
	if len(pages) == 0 {
		return true
	}
	total := 0
	for _, p := range pages {
		total += len(p.Text)
	}
	return total/len(pages) < minTextPerPage
}

// extractWithGemini uploads the PDF and asks the model to transcribe it
// with explicit page markers, then parses the markers back into pages.
func (e *PageExtractor) extractWithGemini(ctx context.Context, content []byte) ([]models.Page, error) {
	if e.config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}

	if e.geminiClient == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(e.config.GeminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		e.geminiClient = client
	}

	file, err := e.geminiClient.UploadFile(ctx, "", bytes.NewReader(content), &genai.UploadFileOptions{
		MIMEType: "application/pdf",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to gemini: %w", err)
	}
	defer e.geminiClient.DeleteFile(ctx, file.Name)

	model := e.geminiClient.GenerativeModel(e.config.GeminiModel)
	model.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(`You are a precise document text extractor. Extract ALL text content from this PDF exactly as it appears. Before each page's content, emit a line containing exactly "--- PAGE N ---" where N is the 1-based page number. Do not summarize, interpret, or modify the content.`)},
	}

	resp, err := model.GenerateContent(ctx,
		genai.FileData{URI: file.URI},
		genai.Text("Extract all text from this PDF, one \"--- PAGE N ---\" marker line before each page."),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini text extraction failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no text extracted by gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	pages := parsePageMarkers(sb.String())
	if len(pages) == 0 {
		return nil, fmt.Errorf("gemini output had no page markers")
	}
	return pages, nil
}

func parsePageMarkers(text string) []models.Page {
	matches := pageMarkerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	pages := make([]models.Page, 0, len(matches))
	for i, m := range matches {
		num, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || num < 1 {
			continue
		}
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		pages = append(pages, models.Page{Number: num, Text: strings.TrimSpace(text[start:end])})
	}
	return pages
}
