package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"athena-rag-backend/internal/config"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/internal/queue"
	"athena-rag-backend/models"
	"athena-rag-backend/services"
	"athena-rag-backend/utils"
)

// HandleDocumentUpload accepts a PDF, saves it, and either ingests it
// inline (small files) or enqueues a background ingestion task. A file
// whose hash matches an existing document short-circuits to that record.
func HandleDocumentUpload(cfg *config.Config, documents *mongo.Collection, queueClient *asynq.Client, ingestor *services.Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "file_too_large",
				"message":    "File size exceeds maximum limit",
			})
			return
		}

		file, header, err := c.Request.FormFile("pdf")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "no_file",
				"message":    "No PDF file provided",
			})
			return
		}
		defer file.Close()

		// Validate file type
		ct := header.Header.Get("Content-Type")
		if !strings.Contains(ct, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_file_type",
				"message":    "Only PDF files are allowed",
			})
			return
		}

		if header.Size > cfg.MaxFileSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "file_too_large",
				"message":    "File size exceeds maximum limit",
			})
			return
		}

		// Basic PDF header validation without loading whole file
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_file",
				"message":    "Cannot read file header",
			})
			return
		}
		if string(headerBuf[:4]) != "%PDF" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_pdf",
				"message":    "File does not appear to be a valid PDF",
			})
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		documentID := uuid.NewString()

		uploadDir := filepath.Join(cfg.FileStorageDir, "pdfs")
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}

		filePath := filepath.Join(uploadDir, fmt.Sprintf("%s.pdf", documentID))
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open destination", nil)
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize)); err != nil {
			dst.Close()
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}
		dst.Close()

		fileHash, err := utils.HashFile(filePath)
		if err != nil {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to hash file", nil)
			return
		}

		ctx := context.Background()

		// Same bytes, same document: point the caller at the existing record.
		var existing models.Document
		err = documents.FindOne(ctx, bson.M{"file_hash": fileHash}).Decode(&existing)
		if err == nil {
			os.Remove(filePath)
			c.JSON(http.StatusOK, models.UploadResponse{
				ID:         existing.ID,
				Filename:   existing.OriginalName,
				Status:     existing.Status,
				ChunkCount: existing.ChunkCount,
				Message:    "Document already uploaded",
			})
			return
		}
		if err != mongo.ErrNoDocuments {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to check for duplicates", nil)
			return
		}

		now := time.Now()
		doc := models.Document{
			ID:           documentID,
			Filename:     fmt.Sprintf("%s.pdf", documentID),
			OriginalName: header.Filename,
			FilePath:     filePath,
			FileHash:     fileHash,
			Size:         header.Size,
			Status:       models.StatusPending,
			UploadedAt:   now,
		}
		if _, err := documents.InsertOne(ctx, doc); err != nil {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to create database record", nil)
			return
		}

		// Small files are worth the wait; the caller gets a queryable
		// document in the same response.
		if header.Size <= cfg.SyncProcessingLimit {
			ingestCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			chunks, err := ingestor.IngestFile(ingestCtx, documentID, filePath)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error_code": "ingestion_failed",
					"message":    "Could not extract text from the document",
					"id":         documentID,
				})
				return
			}
			status := models.StatusCompleted
			if chunks == 0 {
				status = models.StatusPendingEmbeddings
			}
			c.JSON(http.StatusOK, models.UploadResponse{
				ID:         documentID,
				Filename:   header.Filename,
				Status:     status,
				ChunkCount: chunks,
				Message:    "Document processed",
			})
			return
		}

		task, err := queue.NewIngestTask(documentID, filePath)
		if err != nil {
			os.Remove(filePath)
			documents.DeleteOne(ctx, bson.M{"_id": documentID})
			utils.RespondWithInternalError(c, "Failed to create processing task", nil)
			return
		}

		info, err := queueClient.Enqueue(task)
		if err != nil {
			os.Remove(filePath)
			documents.DeleteOne(ctx, bson.M{"_id": documentID})
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}

		c.JSON(http.StatusAccepted, models.UploadResponse{
			ID:       documentID,
			Filename: header.Filename,
			Status:   models.StatusPending,
			TaskID:   info.ID,
			Message:  "Document accepted for processing",
		})
	}
}

// CheckDocumentStatus returns one document's processing state.
func CheckDocumentStatus(documents *mongo.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("id")

		ctx := context.Background()
		var doc models.Document
		err := documents.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve document status", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":            doc.ID,
			"filename":      doc.OriginalName,
			"status":        doc.Status,
			"pages":         doc.Pages,
			"chunk_count":   doc.ChunkCount,
			"size":          doc.Size,
			"error_message": doc.ErrorMessage,
			"uploaded_at":   doc.UploadedAt,
			"processed_at":  doc.ProcessedAt,
		})
	}
}

// ListDocuments lists uploaded documents, newest first, with pagination.
func ListDocuments(documents *mongo.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := c.DefaultQuery("page", "1")
		limit := c.DefaultQuery("limit", "10")

		pageInt := 1
		limitInt := 10
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			pageInt = p
		}
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 100 {
			limitInt = l
		}

		ctx := context.Background()
		skip := (pageInt - 1) * limitInt

		cursor, err := documents.Find(
			ctx,
			bson.M{},
			options.Find().
				SetSort(bson.M{"uploaded_at": -1}).
				SetSkip(int64(skip)).
				SetLimit(int64(limitInt)),
		)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to retrieve documents", nil)
			return
		}
		defer cursor.Close(ctx)

		docs := []models.Document{}
		if err := cursor.All(ctx, &docs); err != nil {
			utils.RespondWithInternalError(c, "Failed to decode documents", nil)
			return
		}

		total, err := documents.CountDocuments(ctx, bson.M{})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count documents", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"pagination": gin.H{
				"page":        pageInt,
				"limit":       limitInt,
				"total":       total,
				"total_pages": (total + int64(limitInt) - 1) / int64(limitInt),
			},
		})
	}
}

// DeleteDocument removes a document's index partition, stored file, and
// registry record. Deleting an unknown ID succeeds; delete is idempotent.
func DeleteDocument(documents *mongo.Collection, ingestor *services.Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("id")
		ctx := context.Background()

		if err := ingestor.RemoveDocument(documentID); err != nil {
			logger.Error("Failed to remove document from index", "document_id", documentID, "error", err)
			utils.RespondWithInternalError(c, "Failed to remove document from index", nil)
			return
		}

		var doc models.Document
		err := documents.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
		if err == nil && doc.FilePath != "" {
			if rmErr := os.Remove(doc.FilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("Failed to remove stored file", "path", doc.FilePath, "error", rmErr)
			}
		}

		if _, err := documents.DeleteOne(ctx, bson.M{"_id": documentID}); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document record", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":      documentID,
			"message": "Document deleted",
		})
	}
}
