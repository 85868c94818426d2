package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/skovale/briefgen/internal/jobs"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/runtime"
	"github.com/skovale/briefgen/internal/store"
)

// BriefsHandler exposes research submission and status polling.
type BriefsHandler struct {
	Manager     *jobs.Manager
	Store       *store.Store // optional, only needed for history listing
	AuthEnabled bool
}

func (h *BriefsHandler) Register(g *echo.Group, secret []byte) {
	if h.AuthEnabled {
		g.Use(runtime.EchoAuthMiddleware(secret))
	}
	g.POST("/brief", h.submit)
	g.GET("/brief/:id", h.status)
	g.GET("/briefs", h.list)
}

// callerID resolves the acting user: the JWT subject when auth is on,
// otherwise whatever the request supplied.
func (h *BriefsHandler) callerID(c echo.Context, fromRequest string) string {
	if h.AuthEnabled {
		if sub, ok := c.Get("user_id").(string); ok {
			return sub
		}
	}
	return fromRequest
}

// Submit a research topic
//
//	@Summary		Submit research topic
//	@Description	Starts an asynchronous research pipeline and returns the brief id to poll
//	@Tags			briefs
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		SubmitBriefRequest	true	"Research request"
//	@Success		202		{object}	SubmitBriefResponse	"Accepted"
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/v1/brief [post]
func (h *BriefsHandler) submit(c echo.Context) error {
	var req SubmitBriefRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r := research.ResearchRequest{
		Topic:    req.Topic,
		Depth:    req.Depth,
		FollowUp: req.FollowUp,
		UserID:   h.callerID(c, req.UserID),
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	b, err := h.Manager.Submit(c.Request().Context(), r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, SubmitBriefResponse{
		BriefID: b.BriefID,
		Topic:   b.Topic,
		Status:  string(b.Status),
		Message: "research started; poll /api/v1/brief/" + b.BriefID,
	})
}

// Poll a brief
//
//	@Summary		Brief status
//	@Description	Returns the brief record; result is present once completed, error once failed
//	@Tags			briefs
//	@Produce		json
//	@Param			id	path		string	true	"Brief ID"
//	@Success		200	{object}	BriefStatusResponse
//	@Failure		404	{object}	HTTPError
//	@Failure		500	{object}	HTTPError
//	@Router			/api/v1/brief/{id} [get]
func (h *BriefsHandler) status(c echo.Context) error {
	id := c.Param("id")
	b, state, ok, err := h.Manager.Status(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "brief not found")
	}
	if h.AuthEnabled {
		if sub, _ := c.Get("user_id").(string); sub != "" && b.Request.UserID != sub {
			return echo.NewHTTPError(http.StatusNotFound, "brief not found")
		}
	}
	return c.JSON(http.StatusOK, BriefStatusResponse{Brief: b, PipelineState: state})
}

// List briefs
//
//	@Summary		Brief history
//	@Description	Most recent briefs for the caller, newest first
//	@Tags			briefs
//	@Produce		json
//	@Param			user_id	query		string	false	"User ID (ignored when auth is enabled)"
//	@Param			limit	query		int		false	"Maximum briefs to return (default 10)"
//	@Success		200		{array}		research.Brief
//	@Failure		400		{object}	HTTPError
//	@Failure		503		{object}	HTTPError
//	@Router			/api/v1/briefs [get]
func (h *BriefsHandler) list(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "brief history requires postgres")
	}
	userID := h.callerID(c, c.QueryParam("user_id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	briefs, err := h.Store.ListBriefs(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if briefs == nil {
		briefs = []research.Brief{}
	}
	return c.JSON(http.StatusOK, briefs)
}
