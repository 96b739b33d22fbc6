package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// WorkerResponse is the admin API's view of a worker (spec.md §6).
type WorkerResponse struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Healthy    bool      `json:"healthy"`
	AdmittedAt time.Time `json:"admitted_at"`
	LastActive time.Time `json:"last_active"`
}

// registerAdminRoutes wires the small admin surface, gated by an API key
// carried in the configured header (spec.md §6). /workers and /maps are
// the two reserved admin paths the spec names; /workers/:id and its
// DELETE are an additional convenience gated by the same middleware.
func (c *Controller) registerAdminRoutes(rg gin.IRoutes) {
	rg.GET("/workers", c.listWorkers)
	rg.GET("/workers/:id", c.getWorker)
	rg.DELETE("/workers/:id", c.dropWorker)
	rg.GET("/maps", c.listBindings)
}

func (c *Controller) listWorkers(ctx *gin.Context) {
	snapshots := c.registry.Snapshot()
	out := make([]WorkerResponse, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, workerToResponse(s))
	}
	ctx.JSON(http.StatusOK, out)
}

func (c *Controller) getWorker(ctx *gin.Context) {
	id, err := parseWorkerID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}
	w, ok := c.registry.Lookup(id)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	ctx.JSON(http.StatusOK, workerToResponse(w.snapshot()))
}

func (c *Controller) dropWorker(ctx *gin.Context) {
	id, err := parseWorkerID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}
	if !c.registry.Remove(id, "admin_requested") {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	c.router.clampCursor(c.registry.Count())
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) listBindings(ctx *gin.Context) {
	snapshot := c.binding.Snapshot()
	out := make(map[string][]string, len(snapshot))
	for workerID, keys := range snapshot {
		out[workerID.String()] = keys
	}
	ctx.JSON(http.StatusOK, out)
}

func workerToResponse(s Snapshot) WorkerResponse {
	return WorkerResponse{
		ID:         s.ID.String(),
		RemoteAddr: s.RemoteAddr,
		Healthy:    s.Healthy,
		AdmittedAt: s.AdmittedAt,
		LastActive: s.LastActive,
	}
}
