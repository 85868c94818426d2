package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skovale/briefgen/internal/jobs"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/runtime"
	"github.com/skovale/briefgen/internal/store"
)

// TopicsHandler manages standing research topics that the scheduler re-runs.
type TopicsHandler struct {
	Store       *store.Store
	Manager     *jobs.Manager
	AuthEnabled bool
}

func (h *TopicsHandler) Register(g *echo.Group, secret []byte) {
	if h.AuthEnabled {
		g.Use(runtime.EchoAuthMiddleware(secret))
	}
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/run", h.run)
}

func (h *TopicsHandler) callerID(c echo.Context, fromRequest string) string {
	if h.AuthEnabled {
		if sub, ok := c.Get("user_id").(string); ok {
			return sub
		}
	}
	return fromRequest
}

// List topics
//
//	@Summary	List standing topics
//	@Tags		topics
//	@Produce	json
//	@Param		user_id	query		string	false	"User ID (ignored when auth is enabled)"
//	@Success	200		{array}		store.Topic
//	@Failure	500		{object}	HTTPError
//	@Router		/api/v1/topics [get]
func (h *TopicsHandler) list(c echo.Context) error {
	userID := h.callerID(c, c.QueryParam("user_id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	items, err := h.Store.ListTopics(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Topic{}
	}
	return c.JSON(http.StatusOK, items)
}

// Create topic
//
//	@Summary	Create a standing topic
//	@Tags		topics
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateTopicRequest	true	"Topic payload"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	500		{object}	HTTPError
//	@Router		/api/v1/topics [post]
func (h *TopicsHandler) create(c echo.Context) error {
	var req struct {
		CreateTopicRequest
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	userID := h.callerID(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if req.ScheduleCron == "" {
		req.ScheduleCron = "@daily"
	}
	if req.Depth == 0 {
		req.Depth = research.DefaultDepth
	}
	id, err := h.Store.CreateTopic(c.Request().Context(), userID, req.Name, req.Depth, req.ScheduleCron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// Get topic
//
//	@Summary	Topic detail
//	@Tags		topics
//	@Produce	json
//	@Param		id	path		string	true	"Topic ID"
//	@Success	200	{object}	store.Topic
//	@Failure	404	{object}	HTTPError
//	@Router		/api/v1/topics/{id} [get]
func (h *TopicsHandler) get(c echo.Context) error {
	userID := h.callerID(c, c.QueryParam("user_id"))
	t, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "topic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

// Delete topic
//
//	@Summary	Delete topic
//	@Tags		topics
//	@Param		id	path	string	true	"Topic ID"
//	@Success	204	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/v1/topics/{id} [delete]
func (h *TopicsHandler) delete(c echo.Context) error {
	userID := h.callerID(c, c.QueryParam("user_id"))
	if err := h.Store.DeleteTopic(c.Request().Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "topic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Trigger a topic run
//
//	@Summary	Run a standing topic now
//	@Tags		topics
//	@Produce	json
//	@Param		id	path		string	true	"Topic ID"
//	@Success	202	{object}	SubmitBriefResponse	"Accepted"
//	@Failure	404	{object}	HTTPError
//	@Failure	500	{object}	HTTPError
//	@Router		/api/v1/topics/{id}/run [post]
func (h *TopicsHandler) run(c echo.Context) error {
	userID := h.callerID(c, c.QueryParam("user_id"))
	t, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "topic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	b, err := h.Manager.Submit(c.Request().Context(), research.ResearchRequest{
		Topic:    t.Name,
		Depth:    t.Depth,
		FollowUp: true,
		UserID:   t.UserID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.TouchTopicRun(c.Request().Context(), t.ID, time.Now().UTC()); err != nil {
		log.Printf("touch topic %s: %v", t.ID, err)
	}
	return c.JSON(http.StatusAccepted, SubmitBriefResponse{
		BriefID: b.BriefID,
		Topic:   b.Topic,
		Status:  string(b.Status),
		Message: "research started; poll /api/v1/brief/" + b.BriefID,
	})
}
