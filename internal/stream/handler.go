package stream

import (
	"errors"
	"net/http"

	"livecast/internal/security"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ViewerCounter reports live presence for a room.
type ViewerCounter interface {
	Count(room string) int
}

type Handler struct {
	service *StreamService
	viewers ViewerCounter
}

func NewHandler(service *StreamService, viewers ViewerCounter) *Handler {
	return &Handler{
		service: service,
		viewers: viewers,
	}
}

// RegisterRoutes mounts the internal, public, owner and admin routes under api.
func (h *Handler) RegisterRoutes(api *echo.Group, tokens *security.TokenManager, internalToken string) {
	internal := api.Group("/internal/streams", security.InternalTokenMiddleware(internalToken))
	internal.POST("/validate", h.ValidateKey)
	internal.POST("/live", h.NotifyLive)
	internal.POST("/ended", h.NotifyEnded)

	api.GET("/streams/live", h.GetLiveStreams)
	api.GET("/streams/:id", h.GetStream)

	auth := security.AuthenticationMiddleware(tokens)
	owner := api.Group("/streams", auth)
	owner.PUT("/:id", h.UpdateStreamInfo)
	owner.PUT("/:id/end", h.EndStream)
	owner.POST("/key/regenerate", h.RegenerateKey)

	admin := api.Group("/admin", auth, security.RequireRole(security.RoleAdmin))
	admin.PUT("/streams/:id/end", h.ForceEndStream)
	admin.PUT("/users/:id/streaming", h.SetStreamingAccess)
}

type ingestRequest struct {
	StreamKey string `json:"streamKey"`
	UserID    string `json:"userId"`
}

// Internal endpoints called by the ingest process

// ValidateKey answers the ingest key check
func (h *Handler) ValidateKey(c echo.Context) error {
	var request ingestRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	result, err := h.service.ValidateStreamKey(c.Request().Context(), request.StreamKey)
	if err != nil {
		return utils.NewInternalError("Failed to validate stream key")
	}
	return c.JSON(http.StatusOK, result)
}

// NotifyLive marks the key owner live. Repeated calls return the same session.
func (h *Handler) NotifyLive(c echo.Context) error {
	var request ingestRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	userID, err := parseOptionalUUID(request.UserID)
	if err != nil {
		return utils.NewValidationError("Invalid user ID")
	}

	session, created, err := h.service.GoLive(c.Request().Context(), request.StreamKey, userID)
	if err != nil {
		return mapError(err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{
		"success": true,
		"created": created,
		"data":    session,
	})
}

// NotifyEnded ends the key owner's live session, if any.
func (h *Handler) NotifyEnded(c echo.Context) error {
	var request ingestRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	userID, err := parseOptionalUUID(request.UserID)
	if err != nil {
		return utils.NewValidationError("Invalid user ID")
	}

	session, err := h.service.EndByIngest(c.Request().Context(), request.StreamKey, userID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"ended":   session != nil,
		"data":    session,
	})
}

// Public endpoints

// GetLiveStreams lists live sessions with their viewer counts
func (h *Handler) GetLiveStreams(c echo.Context) error {
	sessions, err := h.service.GetLiveSessions(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	if sessions == nil {
		sessions = []*StreamSession{}
	}
	for _, session := range sessions {
		h.withViewers(session)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    sessions,
	})
}

// GetStream returns one session with its viewer count
func (h *Handler) GetStream(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return utils.NewValidationError("Invalid stream ID")
	}

	session, err := h.service.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.withViewers(session),
	})
}

func (h *Handler) withViewers(session *StreamSession) *StreamSession {
	if h.viewers != nil && session.IsLive {
		session.ViewerCount = h.viewers.Count(session.RoomID())
	}
	return session
}

// Owner endpoints

// UpdateStreamInfo updates title and category of the caller's session
func (h *Handler) UpdateStreamInfo(c echo.Context) error {
	userID, ok := security.UserIDFromContext(c)
	if !ok {
		return utils.ErrInvalidToken
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return utils.NewValidationError("Invalid stream ID")
	}

	var request struct {
		Title    *string `json:"title"`
		Category *string `json:"category"`
	}
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	session, err := h.service.UpdateSessionInfo(c.Request().Context(), sessionID, userID, request.Title, request.Category)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    session,
	})
}

// EndStream ends the caller's own session
func (h *Handler) EndStream(c echo.Context) error {
	userID, ok := security.UserIDFromContext(c)
	if !ok {
		return utils.ErrInvalidToken
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return utils.NewValidationError("Invalid stream ID")
	}

	session, err := h.service.EndSession(c.Request().Context(), sessionID, userID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Stream ended successfully",
		"data":    session,
	})
}

// RegenerateKey issues a new stream key for the caller
func (h *Handler) RegenerateKey(c echo.Context) error {
	userID, ok := security.UserIDFromContext(c)
	if !ok {
		return utils.ErrInvalidToken
	}

	key, err := h.service.RegenerateStreamKey(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"stream_key": key,
		},
	})
}

// Admin endpoints

// ForceEndStream ends any live session
func (h *Handler) ForceEndStream(c echo.Context) error {
	adminID, ok := security.UserIDFromContext(c)
	if !ok {
		return utils.ErrInvalidToken
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return utils.NewValidationError("Invalid stream ID")
	}

	session, err := h.service.ForceEnd(c.Request().Context(), sessionID, adminID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Stream force-ended",
		"data":    session,
	})
}

// SetStreamingAccess enables or disables publishing for a user
func (h *Handler) SetStreamingAccess(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return utils.NewValidationError("Invalid user ID")
	}

	var request struct {
		Allowed *bool `json:"allowed"`
	}
	if err := c.Bind(&request); err != nil || request.Allowed == nil {
		return utils.NewValidationError("allowed is required")
	}

	if err := h.service.SetStreamingAccess(c.Request().Context(), userID, *request.Allowed); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"user_id": userID,
			"allowed": *request.Allowed,
		},
	})
}

func parseOptionalUUID(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(value)
}

// mapError converts service errors into HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidStreamKey):
		return utils.NewAppError(http.StatusUnauthorized, "Invalid stream key")
	case errors.Is(err, ErrSessionNotFound):
		return utils.ErrStreamNotFound
	case errors.Is(err, ErrUserNotFound):
		return utils.ErrUserNotFound
	case errors.Is(err, ErrNotSessionOwner):
		return utils.ErrAccessDenied
	case errors.Is(err, ErrSessionNotLive):
		return utils.NewAppError(http.StatusConflict, "Stream is not live")
	case errors.Is(err, ErrSessionAlreadyLive):
		return utils.NewAppError(http.StatusConflict, "Stream is already live")
	case errors.Is(err, ErrInvalidInput):
		return utils.NewValidationError(err.Error())
	default:
		utils.Logger.Errorf("Stream request failed: %v", err)
		return utils.NewInternalError("Internal server error")
	}
}
