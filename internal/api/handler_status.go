package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"flight-status-backend/internal/mw"
	"flight-status-backend/internal/store"
	"flight-status-backend/internal/tracking"
)

// operatorName is what gets recorded as the author of an update.
func operatorName(id *mw.Identity) string {
	if id.Email != "" {
		return id.Email
	}
	return "system"
}

// GetFlightStatus handles the GET /api/flights/{flightId}/status request.
func (h *Handler) GetFlightStatus(c *gin.Context) {
	flightID := c.Param("flightId")

	flight, current, err := h.tracking.CurrentStatus(c.Request.Context(), flightID)
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Flight not found"})
		return
	}
	if err != nil {
		log.Printf("Error fetching flight status for %s: %v", flightID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch flight status"})
		return
	}

	updatedBy := current.Resolved.UpdatedBy
	if updatedBy == "" {
		updatedBy = "system"
	}
	c.JSON(http.StatusOK, gin.H{
		"flightId":    flightID,
		"status":      current.Resolved,
		"source":      current.Source.String(),
		"flight":      flight,
		"lastUpdated": current.Resolved.LastUpdated,
		"updatedBy":   updatedBy,
	})
}

type updateStatusRequest struct {
	Status  string  `json:"status" binding:"required"`
	Delay   *int    `json:"delay"`
	Gate    *string `json:"gate"`
	Message string  `json:"message"`
}

// PostFlightStatus handles the POST /api/flights/{flightId}/status request.
func (h *Handler) PostFlightStatus(c *gin.Context) {
	id, ok := mw.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	flightID := c.Param("flightId")
	res, err := h.tracking.UpdateStatus(c.Request.Context(), flightID, operatorName(id), tracking.UpdateRequest{
		Status:  req.Status,
		Delay:   req.Delay,
		Gate:    req.Gate,
		Message: req.Message,
	})
	switch {
	case errors.Is(err, tracking.ErrInvalidStatus), errors.Is(err, tracking.ErrInvalidDelay):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, tracking.ErrFlightNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Flight not found"})
		return
	case err != nil:
		log.Printf("Error updating flight status for %s: %v", flightID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to update flight status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"flightId":   flightID,
		"update":     res.Delta,
		"saved":      res.Update,
		"emailsSent": res.EmailsSent,
	})
}
