// api.go: operator surface for admission metrics and overrides
package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminResponse is the standard envelope for operator API responses.
type AdminResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// MaintenanceController toggles the geographic strategy's maintenance
// bypass for a named region.
type MaintenanceController interface {
	SetMaintenanceRegion(region string)
	MaintenanceRegion() string
}

// RegisterAdminRoutes mounts the operator endpoints on a router group:
// metrics snapshot, counter reset, and the maintenance-region toggle.
func RegisterAdminRoutes(rg *gin.RouterGroup, m *Monitor, maint MaintenanceController, logger *zap.Logger) {
	rg.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, AdminResponse{
			Success:   true,
			Data:      m.Snapshot(),
			Timestamp: time.Now().UTC(),
			RequestID: uuid.NewString(),
		})
	})

	rg.POST("/reset", func(c *gin.Context) {
		m.Reset()
		logger.Info("violation counters reset by operator")
		c.JSON(http.StatusOK, AdminResponse{
			Success:   true,
			Message:   "violation counters reset",
			Timestamp: time.Now().UTC(),
			RequestID: uuid.NewString(),
		})
	})

	rg.GET("/maintenance", func(c *gin.Context) {
		c.JSON(http.StatusOK, AdminResponse{
			Success:   true,
			Data:      gin.H{"region": maint.MaintenanceRegion()},
			Timestamp: time.Now().UTC(),
			RequestID: uuid.NewString(),
		})
	})

	rg.PUT("/maintenance", func(c *gin.Context) {
		var body struct {
			Region string `json:"region"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, AdminResponse{
				Success:   false,
				Error:     "invalid request body: " + err.Error(),
				Timestamp: time.Now().UTC(),
				RequestID: uuid.NewString(),
			})
			return
		}
		maint.SetMaintenanceRegion(body.Region)
		logger.Info("maintenance region updated", zap.String("region", body.Region))
		c.JSON(http.StatusOK, AdminResponse{
			Success:   true,
			Message:   "maintenance region updated",
			Data:      gin.H{"region": maint.MaintenanceRegion()},
			Timestamp: time.Now().UTC(),
			RequestID: uuid.NewString(),
		})
	})
}
