package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"

	"athena-rag-backend/internal/ai"
	"athena-rag-backend/internal/index"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/internal/telemetry"
	"athena-rag-backend/models"
)

// InsufficientContextAnswer is the fixed reply when retrieval produces no
// context. The model is never called in that case, so it cannot invent an
// answer from nothing.
const InsufficientContextAnswer = "I could not find relevant information in the uploaded documents to answer this question."

// citationPattern matches the page references the prompt instructs the
// model to emit: "p. 12", "page 12", "pages 3-5" and close variants.
var citationPattern = regexp.MustCompile(`(?i)\b(?:p|pg|page)s?\.?\s*(\d{1,4})(?:\s*[-\x{2013}]\s*(\d{1,4}))?`)

// Answerer turns a question into a grounded answer with page citations.
type Answerer struct {
	retriever *Retriever
	generator ai.Generator
	metrics   *telemetry.Metrics
}

func NewAnswerer(retriever *Retriever, generator ai.Generator, metrics *telemetry.Metrics) *Answerer {
	return &Answerer{retriever: retriever, generator: generator, metrics: metrics}
}

// Answer retrieves context for the question, asks the model, and filters
// the model's citations down to pages that were actually retrieved. When
// retrieval comes back empty the fixed insufficient-context reply is
// returned and the model is not called at all.
func (a *Answerer) Answer(ctx context.Context, question string, k int, documentID string) (string, []models.Citation, error) {
	tracer := otel.Tracer("answerer")
	ctx, span := tracer.Start(ctx, "answerer.answer")
	defer span.End()

	results, err := a.retriever.Retrieve(ctx, question, k, documentID)
	if err != nil {
		if errors.Is(err, ErrRetrieval) {
			return InsufficientContextAnswer, nil, nil
		}
		return "", nil, err
	}

	prompt := buildGroundedPrompt(question, results)
	answer, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(answer) == "" {
		return InsufficientContextAnswer, nil, nil
	}

	citations := a.filterCitations(answer, results, documentID)
	return answer, citations, nil
}

// buildGroundedPrompt assembles the retrieved chunks, each tagged with its
// document and pages, followed by citation instructions and the question.
func buildGroundedPrompt(question string, results []index.Result) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using ONLY the context below. ")
	sb.WriteString("If the context does not contain the answer, say so. ")
	sb.WriteString("Cite the pages you used in the form \"p. N\".\n\n")

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("[doc %s p.%s]\n", r.Entry.DocumentID, joinPages(r.Entry.Pages)))
		sb.WriteString(r.Entry.Text)
		if i < len(results)-1 {
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// filterCitations parses page references out of the answer and keeps only
// those backed by the retrieved chunks. A cited page the context never
// contained is dropped and counted; if the model cited no pages at all the
// citations fall back to every page of the retrieved context.
func (a *Answerer) filterCitations(answer string, results []index.Result, documentID string) []models.Citation {
	// Pages actually present in the retrieved context, per document.
	allowed := make(map[string]map[int]bool)
	for _, r := range results {
		docPages, ok := allowed[r.Entry.DocumentID]
		if !ok {
			docPages = make(map[int]bool)
			allowed[r.Entry.DocumentID] = docPages
		}
		for _, p := range r.Entry.Pages {
			docPages[p] = true
		}
	}

	seen := make(map[models.Citation]bool)
	var citations []models.Citation
	dropped := 0

	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		lo, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		hi := lo
		if m[2] != "" {
			if h, err := strconv.Atoi(m[2]); err == nil && h >= lo {
				hi = h
			}
		}
		for page := lo; page <= hi; page++ {
			grounded := false
			for docID, docPages := range allowed {
				if docPages[page] {
					grounded = true
					c := models.Citation{DocumentID: docID, Page: page}
					if !seen[c] {
						seen[c] = true
						citations = append(citations, c)
					}
				}
			}
			if !grounded {
				dropped++
			}
		}
	}

	if dropped > 0 {
		logger.Warn("Dropped citations to pages outside retrieved context",
			"dropped", dropped, "document_id", documentID)
		if a.metrics != nil {
			a.metrics.RecordUngroundedCitation(documentID, dropped)
		}
	}

	// The model answered from the context but cited no pages at all; fall
	// back to citing the context itself. An answer whose every citation
	// was ungrounded gets no fallback: vouching for it with the full
	// context would overstate how grounded it is.
	if len(citations) == 0 && dropped == 0 {
		for docID, docPages := range allowed {
			for page := range docPages {
				c := models.Citation{DocumentID: docID, Page: page}
				if !seen[c] {
					seen[c] = true
					citations = append(citations, c)
				}
			}
		}
	}

	sort.Slice(citations, func(i, j int) bool {
		if citations[i].DocumentID != citations[j].DocumentID {
			return citations[i].DocumentID < citations[j].DocumentID
		}
		return citations[i].Page < citations[j].Page
	})
	return citations
}
