package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"athena-rag-backend/models"
)

// noteSeparator joins appended note bodies. Appends never rewrite what
// was saved before.
const noteSeparator = "\n\n---\n\n"

// NotesService persists research notes and their page citations.
type NotesService struct {
	col *mongo.Collection
}

func NewNotesService(db *mongo.Database) *NotesService {
	return &NotesService{col: db.Collection("notes")}
}

func (s *NotesService) Save(ctx context.Context, title, body string, citations []models.Citation) (*models.Note, error) {
	now := time.Now()
	note := &models.Note{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Citations: normalizeCitations(citations),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.col.InsertOne(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to save note: %w", err)
	}
	return note, nil
}

// Append adds to a note's body and unions in new citations. Existing body
// text is never modified, only extended.
func (s *NotesService) Append(ctx context.Context, id, addition string, citations []models.Citation) (*models.Note, error) {
	note, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if note.Body == "" {
		note.Body = addition
	} else {
		note.Body = note.Body + noteSeparator + addition
	}
	note.Citations = normalizeCitations(append(note.Citations, citations...))
	note.UpdatedAt = time.Now()

	_, err = s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"body":       note.Body,
		"citations":  note.Citations,
		"updated_at": note.UpdatedAt,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to append to note: %w", err)
	}
	return note, nil
}

func (s *NotesService) Get(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&note)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// List returns notes most recently updated first.
func (s *NotesService) List(ctx context.Context, limit, offset int64) ([]models.Note, error) {
	opts := options.Find().
		SetSort(bson.M{"updated_at": -1}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notes := []models.Note{}
	if err := cursor.All(ctx, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// normalizeCitations dedupes and sorts by document then page.
func normalizeCitations(citations []models.Citation) []models.Citation {
	seen := make(map[models.Citation]bool, len(citations))
	out := make([]models.Citation, 0, len(citations))
	for _, c := range citations {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Page < out[j].Page
	})
	return out
}
