package models

import "time"

// Citation asserts that a page of a document backs a claim in an answer.
type Citation struct {
	DocumentID string `bson:"document_id" json:"document_id"`
	Page       int    `bson:"page" json:"page"`
}

// Note is a saved answer. Notes are created once and then only ever appended
// to: the body grows and the citation list is unioned, never overwritten.
type Note struct {
	ID        string     `bson:"_id" json:"id"`
	Title     string     `bson:"title" json:"title"`
	Body      string     `bson:"body" json:"body"`
	Citations []Citation `bson:"citations" json:"citations"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}
