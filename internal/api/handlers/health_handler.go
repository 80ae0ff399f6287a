package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	FabricEnabled func() bool
	StoreDriver   string
	// Backlog reports queued ledger writes; Parked those given up on.
	Backlog func() int
	Parked  func() int
}

func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"ok": true, "fabricEnabled": false, "storeDriver": h.StoreDriver, "mirrorBacklog": 0, "mirrorParked": 0}
	if h.FabricEnabled != nil {
		resp["fabricEnabled"] = h.FabricEnabled()
	}
	if h.Backlog != nil {
		resp["mirrorBacklog"] = h.Backlog()
	}
	if h.Parked != nil {
		resp["mirrorParked"] = h.Parked()
	}
	c.JSON(http.StatusOK, resp)
}
