package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"athena-rag-backend/models"
	"athena-rag-backend/services"
	"athena-rag-backend/utils"
)

type saveNoteRequest struct {
	Title     string            `json:"title" binding:"required"`
	Body      string            `json:"body" binding:"required"`
	Citations []models.Citation `json:"citations"`
}

type appendNoteRequest struct {
	Body      string            `json:"body" binding:"required"`
	Citations []models.Citation `json:"citations"`
}

// HandleSaveNote creates a new note.
func HandleSaveNote(notes *services.NotesService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req saveNoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Title and body are required", err.Error())
			return
		}

		note, err := notes.Save(c.Request.Context(), req.Title, req.Body, req.Citations)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to save note", nil)
			return
		}
		c.JSON(http.StatusCreated, note)
	}
}

// HandleAppendNote extends an existing note's body and citations.
func HandleAppendNote(notes *services.NotesService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendNoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Body is required", err.Error())
			return
		}

		note, err := notes.Append(c.Request.Context(), c.Param("id"), req.Body, req.Citations)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				utils.RespondWithNotFound(c, "Note not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to append to note", nil)
			return
		}
		c.JSON(http.StatusOK, note)
	}
}

// HandleGetNote returns one note by ID.
func HandleGetNote(notes *services.NotesService) gin.HandlerFunc {
	return func(c *gin.Context) {
		note, err := notes.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if err == mongo.ErrNoDocuments {
				utils.RespondWithNotFound(c, "Note not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve note", nil)
			return
		}
		c.JSON(http.StatusOK, note)
	}
}

// HandleListNotes lists notes, most recently updated first.
func HandleListNotes(notes *services.NotesService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := int64(20)
		offset := int64(0)
		if l, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64); err == nil && l > 0 && l <= 100 {
			limit = l
		}
		if o, err := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64); err == nil && o >= 0 {
			offset = o
		}

		list, err := notes.List(c.Request.Context(), limit, offset)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list notes", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notes": list})
	}
}

// HandleExportNote streams one note as an Excel workbook.
func HandleExportNote(notes *services.NotesService, export *services.ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		note, err := notes.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if err == mongo.ErrNoDocuments {
				utils.RespondWithNotFound(c, "Note not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve note", nil)
			return
		}

		buf, err := export.NoteToExcel(note)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to export note", nil)
			return
		}

		filename := fmt.Sprintf("note_%s.xlsx", note.ID)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			buf.Bytes())
	}
}
