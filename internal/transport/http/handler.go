package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mperrin/festipos/internal/model"
	"github.com/mperrin/festipos/internal/repo"
	"github.com/mperrin/festipos/internal/service"
)

// Handler bundles the dependencies the endpoints need.
type Handler struct {
	repo     repo.RepositoryInterface
	importer *service.ImportService
	reports  *service.ReportService
}

func NewHandler(r repo.RepositoryInterface, imp *service.ImportService, rep *service.ReportService) *Handler {
	return &Handler{repo: r, importer: imp, reports: rep}
}

func RegisterHandlers(r *gin.Engine, h *Handler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/events", h.listEvents)
		v1.POST("/events", h.createEvent)
		v1.GET("/events/:id", h.getEvent)
		v1.PATCH("/events/:id", h.updateEvent)
		v1.DELETE("/events/:id", h.deleteEvent)

		v1.GET("/events/:id/selling-points", h.listSellingPoints)
		v1.POST("/events/:id/selling-points", h.createSellingPoint)
		v1.PATCH("/events/:id/selling-points/:spID", h.updateSellingPoint)
		v1.DELETE("/events/:id/selling-points/:spID", h.deleteSellingPoint)

		v1.GET("/selling-points/:spID/epts", h.listEPTs)
		v1.POST("/selling-points/:spID/epts", h.createEPT)
		v1.PATCH("/selling-points/:spID/epts/:eptID", h.updateEPT)
		v1.DELETE("/selling-points/:spID/epts/:eptID", h.deleteEPT)

		v1.POST("/events/:id/imports", h.importFile)
		v1.GET("/events/:id/summary", h.summary)
		v1.GET("/events/:id/timeline", h.timeline)
	}
}

// storageError maps a read/write failure to 404 (unknown row), 409
// (uniqueness conflict) or 500.
func storageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, gorm.ErrDuplicatedKey):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ---- events ----

type eventReq struct {
	Name    string    `json:"name" binding:"required"`
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
}

type eventPatchReq struct {
	Name    *string    `json:"name"`
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
}

func (h *Handler) listEvents(c *gin.Context) {
	evts, err := h.repo.ListEvents(c)
	if err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, evts)
}

func (h *Handler) createEvent(c *gin.Context) {
	var req eventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := &model.Event{Name: req.Name, StartAt: req.StartAt, EndAt: req.EndAt}
	if err := h.repo.CreateEvent(c, e); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) getEvent(c *gin.Context) {
	e, err := h.repo.GetEvent(c, c.Param("id"))
	if err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) updateEvent(c *gin.Context) {
	var req eventPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.repo.GetEvent(c, c.Param("id"))
	if err != nil {
		storageError(c, err)
		return
	}
	if req.Name != nil {
		e.Name = *req.Name
	}
	if req.StartAt != nil {
		e.StartAt = *req.StartAt
	}
	if req.EndAt != nil {
		e.EndAt = *req.EndAt
	}
	if err := h.repo.SaveEvent(c, e); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) deleteEvent(c *gin.Context) {
	if _, err := h.repo.GetEvent(c, c.Param("id")); err != nil {
		storageError(c, err)
		return
	}
	if err := h.repo.DeleteEvent(c, c.Param("id")); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- selling points ----

type sellingPointReq struct {
	Name      string  `json:"name" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type sellingPointPatchReq struct {
	Name      *string  `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *Handler) listSellingPoints(c *gin.Context) {
	if _, err := h.repo.GetEvent(c, c.Param("id")); err != nil {
		storageError(c, err)
		return
	}
	sps, err := h.repo.ListSellingPoints(c, c.Param("id"))
	if err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, sps)
}

func (h *Handler) createSellingPoint(c *gin.Context) {
	var req sellingPointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.repo.GetEvent(c, c.Param("id")); err != nil {
		storageError(c, err)
		return
	}
	sp := &model.SellingPoint{
		EventID:   c.Param("id"),
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if err := h.repo.CreateSellingPoint(c, sp); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

// sellingPointOf fetches the selling point and checks it belongs to the
// event in the path.
func (h *Handler) sellingPointOf(c *gin.Context) *model.SellingPoint {
	sp, err := h.repo.GetSellingPoint(c, c.Param("spID"))
	if err != nil {
		storageError(c, err)
		return nil
	}
	if sp.EventID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil
	}
	return sp
}

func (h *Handler) updateSellingPoint(c *gin.Context) {
	var req sellingPointPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sp := h.sellingPointOf(c)
	if sp == nil {
		return
	}
	if req.Name != nil {
		sp.Name = *req.Name
	}
	if req.Latitude != nil {
		sp.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		sp.Longitude = *req.Longitude
	}
	if err := h.repo.SaveSellingPoint(c, sp); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

func (h *Handler) deleteSellingPoint(c *gin.Context) {
	sp := h.sellingPointOf(c)
	if sp == nil {
		return
	}
	if err := h.repo.DeleteSellingPoint(c, sp.ID); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- EPTs ----

type eptReq struct {
	Provider model.Provider `json:"provider" binding:"required"`
	Label    string         `json:"label" binding:"required"`
}

type eptPatchReq struct {
	Provider *model.Provider `json:"provider"`
	Label    *string         `json:"label"`
}

func (h *Handler) listEPTs(c *gin.Context) {
	if _, err := h.repo.GetSellingPoint(c, c.Param("spID")); err != nil {
		storageError(c, err)
		return
	}
	epts, err := h.repo.ListEPTs(c, c.Param("spID"))
	if err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, epts)
}

func (h *Handler) createEPT(c *gin.Context) {
	var req eptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Provider.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
		return
	}
	if _, err := h.repo.GetSellingPoint(c, c.Param("spID")); err != nil {
		storageError(c, err)
		return
	}
	ept := &model.EPT{
		SellingPointID: c.Param("spID"),
		Provider:       req.Provider,
		Label:          req.Label,
	}
	if err := h.repo.CreateEPT(c, ept); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ept)
}

// eptOf fetches the EPT and checks it belongs to the selling point in the path.
func (h *Handler) eptOf(c *gin.Context) *model.EPT {
	ept, err := h.repo.GetEPT(c, c.Param("eptID"))
	if err != nil {
		storageError(c, err)
		return nil
	}
	if ept.SellingPointID != c.Param("spID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil
	}
	return ept
}

func (h *Handler) updateEPT(c *gin.Context) {
	var req eptPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ept := h.eptOf(c)
	if ept == nil {
		return
	}
	if req.Provider != nil {
		if !req.Provider.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
			return
		}
		ept.Provider = *req.Provider
	}
	if req.Label != nil {
		ept.Label = *req.Label
	}
	if err := h.repo.SaveEPT(c, ept); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, ept)
}

func (h *Handler) deleteEPT(c *gin.Context) {
	ept := h.eptOf(c)
	if ept == nil {
		return
	}
	if err := h.repo.DeleteEPT(c, ept.ID); err != nil {
		storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- import & aggregate views ----

func (h *Handler) importFile(c *gin.Context) {
	parserName := c.PostForm("parser")
	if parserName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parser is required"})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	rep, err := h.importer.Run(c, c.Param("id"), parserName, f, c.PostForm("ept_id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUnknownParser),
			errors.Is(err, service.ErrUnreadableFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) summary(c *gin.Context) {
	sum, err := h.reports.Summary(c, c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) timeline(c *gin.Context) {
	bucket := c.DefaultQuery("bucket", service.DefaultBucket)
	tl, err := h.reports.Timeline(c, c.Param("id"), bucket)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrBadBucketSpec):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, tl)
}
