package services

import (
	"fmt"

	"athena-rag-backend/models"
)

// Chunker slices a document's concatenated text into fixed-size windows
// with a fixed overlap, keeping track of which pages each window touches.
// Size and Overlap count runes of the joined text, never bytes, so a
// multi-byte character is never split across two chunks; 0 <= Overlap < Size.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	return &Chunker{Size: size, Overlap: overlap}
}

// pageSpan records the half-open rune range [start, end) a page occupies
// in the joined text. The newline separators between pages belong to no
// page, so a window that only covers a separator gets no attribution.
type pageSpan struct {
	number int
	start  int
	end    int
}

// Chunk splits the document into overlapping windows. Chunk IDs are
// deterministic, documentID plus the window's position, so re-ingesting
// the same document yields identical chunks.
func (c *Chunker) Chunk(documentID string, pages []models.Page) []models.Chunk {
	var text []rune
	spans := make([]pageSpan, 0, len(pages))
	for i, p := range pages {
		if i > 0 {
			text = append(text, '\n')
		}
		start := len(text)
		text = append(text, []rune(p.Text)...)
		spans = append(spans, pageSpan{number: p.Number, start: start, end: len(text)})
	}
	if len(text) == 0 {
		return nil
	}

	step := c.Size - c.Overlap
	var chunks []models.Chunk
	for start := 0; start < len(text); start += step {
		end := start + c.Size
		last := false
		if end >= len(text) {
			end = len(text)
			last = true
		}

		attributed := pagesInWindow(spans, start, end)
		if len(attributed) > 0 {
			order := len(chunks)
			chunks = append(chunks, models.Chunk{
				ChunkID:    fmt.Sprintf("%s_%d", documentID, order),
				DocumentID: documentID,
				Order:      order,
				Text:       string(text[start:end]),
				Pages:      attributed,
			})
		}

		if last {
			break
		}
	}
	return chunks
}

// pagesInWindow returns the numbers of pages whose span overlaps the
// half-open window [start, end), ascending. Empty pages never overlap
// anything because their span is zero width.
func pagesInWindow(spans []pageSpan, start, end int) []int {
	var pages []int
	for _, s := range spans {
		if s.start >= s.end {
			continue
		}
		if s.start < end && s.end > start {
			pages = append(pages, s.number)
		}
	}
	return pages
}
