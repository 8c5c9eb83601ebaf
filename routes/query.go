package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"athena-rag-backend/internal/ai"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/internal/telemetry"
	"athena-rag-backend/models"
	"athena-rag-backend/services"
	"athena-rag-backend/utils"
)

// HandleQuery answers a question against the indexed documents. An empty
// index or a question with no relevant context returns the fixed
// insufficient-context answer with 200, not an error: from the caller's
// side that is a valid, honest answer.
func HandleQuery(answerer *services.Answerer, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Question is required", err.Error())
			return
		}

		start := time.Now()
		answer, citations, err := answerer.Answer(c.Request.Context(), req.Question, req.TopK, req.DocumentID)
		latency := time.Since(start)

		if err != nil {
			if errors.Is(err, ai.ErrGenerationTimeout) {
				if metrics != nil {
					metrics.RecordQuery(latency.Seconds(), "timeout")
				}
				utils.RespondWithError(c, http.StatusGatewayTimeout,
					"generation_timeout",
					"The model did not answer in time. Please try again.",
					nil)
				return
			}
			logger.Error("Query failed", "error", err)
			if metrics != nil {
				metrics.RecordQuery(latency.Seconds(), "error")
			}
			utils.RespondWithInternalError(c, "Failed to answer the question", nil)
			return
		}

		if metrics != nil {
			metrics.RecordQuery(latency.Seconds(), "success")
		}
		if citations == nil {
			citations = []models.Citation{}
		}
		c.JSON(http.StatusOK, models.QueryResponse{
			Answer:    answer,
			Citations: citations,
			LatencyMS: latency.Milliseconds(),
		})
	}
}
