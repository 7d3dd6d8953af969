package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/project"
	"github.com/zulandar/signalbox/internal/registry"
	"gorm.io/gorm"
)

// registerRoutes sets up every route on the gin engine.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/agents/:id", h.getAgent)
	router.PUT("/agents/:id/model", h.updateAgentModel)
	router.POST("/agents", h.createAgent)

	router.GET("/models", h.listModels)

	router.POST("/projects", h.createProject)
	router.GET("/projects", h.listProjects)
	router.GET("/projects/active", h.activeProject)
	router.POST("/projects/:projectId/activate", h.activateProject)

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/ws", gin.WrapH(h.opts.WebSocket))
	router.GET("/events", h.events)
}

type handlers struct {
	opts Opts
	log  *slog.Logger
}

// agentInfo is the GET /agents/:id body.
type agentInfo struct {
	Cost         float64 `json:"cost"`
	Model        string  `json:"model"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

type modelRequest struct {
	Model string `json:"model" binding:"required"`
}

type createAgentRequest struct {
	AgentType string `json:"agentType" binding:"required"`
	Model     string `json:"model"`
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

type modelInfo struct {
	Price         llm.Pricing `json:"price"`
	ContextWindow int         `json:"contextWindow"`
}

// activeProjectInfo is the GET /projects/active body.
type activeProjectInfo struct {
	ID                uint                `json:"id"`
	Name              string              `json:"name"`
	TotalInputTokens  int64               `json:"totalInputTokens"`
	TotalOutputTokens int64               `json:"totalOutputTokens"`
	TotalTokens       int64               `json:"totalTokens"`
	TotalCost         float64             `json:"totalCost"`
	Agents            []ledger.AgentUsage `json:"agents"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// findAgent loads an agent row of the active project.
func (h *handlers) findAgent(c *gin.Context, id string) (*models.Agent, error) {
	var row models.Agent
	err := h.opts.DB.WithContext(c.Request.Context()).
		Where("id = ? AND project_id = ?", id, h.opts.Projects.ActiveID()).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (h *handlers) getAgent(c *gin.Context) {
	row, err := h.findAgent(c, c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, agentInfo{Model: "none"})
		return
	}
	if err != nil {
		h.log.Error("fetch agent info", "agent", c.Param("id"), "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to fetch agent info")
		return
	}
	c.JSON(http.StatusOK, agentInfo{
		Cost:         row.Cost,
		Model:        row.Model,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		InputTokens:  row.InputTokens,
		OutputTokens: row.OutputTokens,
	})
}

func (h *handlers) updateAgentModel(c *gin.Context) {
	id := c.Param("id")
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Model name is required")
		return
	}
	if !h.opts.Models.Supported(req.Model) {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Model %s not supported", req.Model))
		return
	}

	if _, err := h.findAgent(c, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			abortWithError(c, http.StatusNotFound, "Agent not found")
			return
		}
		h.log.Error("update agent model", "agent", id, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to update agent model")
		return
	}

	if err := h.opts.Agents.UpdateModel(c.Request.Context(), id, req.Model); err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			abortWithError(c, http.StatusNotFound, "Agent not found")
		case errors.Is(err, llm.ErrUnsupportedModel):
			abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Model %s not supported", req.Model))
		default:
			h.log.Error("update agent model", "agent", id, "error", err)
			abortWithError(c, http.StatusInternalServerError, "Failed to update agent model")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Updated agent model to %s", req.Model)})
}

func (h *handlers) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Agent type is required")
		return
	}
	role, err := agent.ParseRole(req.AgentType)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Unknown agent type %s", req.AgentType))
		return
	}
	if req.Model != "" && !h.opts.Models.Supported(req.Model) {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Model %s not supported", req.Model))
		return
	}

	ctx := c.Request.Context()
	s, err := h.opts.Agents.Spawn(ctx, h.opts.Projects.ActiveID(), role, req.Model)
	if err != nil {
		h.log.Error("create agent", "type", req.AgentType, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to create agent")
		return
	}
	row, err := h.findAgent(c, s.ID())
	if err != nil {
		h.log.Error("create agent", "agent", s.ID(), "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to create agent")
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *handlers) listModels(c *gin.Context) {
	out := make(map[string]modelInfo)
	for _, d := range h.opts.Models.Models() {
		out[d.Name] = modelInfo{Price: d.Price, ContextWindow: d.ContextWindow}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Project name is required")
		return
	}
	p, err := project.Create(c.Request.Context(), h.opts.DB, req.Name)
	if errors.Is(err, project.ErrNameRequired) {
		abortWithError(c, http.StatusBadRequest, "Project name is required")
		return
	}
	if err != nil {
		h.log.Error("create project", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to create project")
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handlers) listProjects(c *gin.Context) {
	projects, err := project.List(c.Request.Context(), h.opts.DB)
	if err != nil {
		h.log.Error("list projects", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *handlers) activeProject(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.opts.Projects.Active(ctx)
	if errors.Is(err, project.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		h.log.Error("fetch active project", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to fetch active project")
		return
	}
	totals, err := h.opts.Ledger.ProjectTotals(ctx, p.ID)
	if err != nil {
		h.log.Error("fetch active project totals", "project", p.ID, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to fetch active project")
		return
	}
	c.JSON(http.StatusOK, activeProjectInfo{
		ID:                p.ID,
		Name:              p.Name,
		TotalInputTokens:  totals.TotalInputTokens,
		TotalOutputTokens: totals.TotalOutputTokens,
		TotalTokens:       totals.TotalTokens,
		TotalCost:         totals.TotalCost,
		Agents:            totals.Agents,
	})
}

func (h *handlers) activateProject(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("projectId"), 10, 0)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid project ID")
		return
	}
	if _, err := h.opts.Projects.Activate(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Project not found")
			return
		}
		h.log.Error("activate project", "project", id, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to activate project")
		return
	}
	h.log.Info("project activated", "project", id)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Activated project %d", id)})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.opts.Hub.ConnectionCount(),
	})
}
