package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/service"
)

type CaseHandler struct {
	svc service.CaseServicer
}

func NewCaseHandler(svc service.CaseServicer) *CaseHandler {
	RegisterValidators()
	return &CaseHandler{svc: svc}
}

// createCaseRequest — форма приёма посетителя.
type createCaseRequest struct {
	Name         string  `json:"name" binding:"required,max=255"`
	Contact      string  `json:"contact" binding:"required,min=3,max=255,contact"`
	Summary      string  `json:"summary"`
	PhoneNumber  string  `json:"phone_number" binding:"omitempty,len=10,number"`
	TicketNeeded *bool   `json:"ticket_needed"`
	Assignee     *string `json:"assignee"`
	Component    *string `json:"component"`
}

func (h *CaseHandler) Create(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": describeBindError(err)})
		return
	}
	ticketNeeded := true
	if req.TicketNeeded != nil {
		ticketNeeded = *req.TicketNeeded
	}
	kase := &model.Case{
		Name:         strings.TrimSpace(req.Name),
		Contact:      req.Contact,
		Summary:      req.Summary,
		PhoneNumber:  model.StringPtr(req.PhoneNumber),
		TicketNeeded: ticketNeeded,
		Assignee:     model.StringPtr(model.StringValue(req.Assignee)),
		Component:    model.StringPtr(model.StringValue(req.Component)),
	}
	if err := h.svc.Create(c.Request.Context(), kase); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create case"})
		return
	}
	c.JSON(http.StatusCreated, kase)
}

func (h *CaseHandler) Get(c *gin.Context) {
	kase, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, kase)
}

func (h *CaseHandler) List(c *gin.Context) {
	q, err := ParseCaseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, total, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list cases"})
		return
	}
	if items == nil {
		items = []model.Case{}
	}
	c.JSON(http.StatusOK, gin.H{
		"cases": items,
		"total": total,
	})
}

// Update applies a column patch: {"closed_at": "...", "ticket_needed": false}.
// null clears a nullable column.
func (h *CaseHandler) Update(c *gin.Context) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no changes"})
		return
	}
	patch := make(model.CasePatch, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for " + k})
			return
		}
		patch[k] = val
	}
	kase, err := h.svc.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, kase)
}

func (h *CaseHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ParseCaseQuery reads id, created_from, created_to (RFC 3339), open, limit
// and offset from the query string.
func ParseCaseQuery(c *gin.Context) (model.CaseQuery, error) {
	q := model.CaseQuery{ID: c.Query("id")}
	for key, dst := range map[string]**time.Time{"created_from": &q.CreatedFrom, "created_to": &q.CreatedTo} {
		if v := c.Query(key); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return q, errors.New("invalid " + key)
			}
			t = t.UTC()
			*dst = &t
		}
	}
	if v := c.Query("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return q, errors.New("invalid open")
		}
		q.OpenOnly = open
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			q.Offset = parsed
		}
	}
	return q, nil
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
	case errors.Is(err, errs.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, errs.ErrAgentExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidPatch), errors.Is(err, service.ErrInvalidAgent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
