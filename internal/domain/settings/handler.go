package settings

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.PutSettings)
}

// GetSettings returns the saved configuration with the remote key redacted.
func (h *Handler) GetSettings(c echo.Context) error {
	cfg := h.store.Get()
	if cfg.RemoteKey != "" {
		cfg.RemoteKey = "********"
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) PutSettings(c echo.Context) error {
	var cfg AppConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.store.Put(cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"saved": true})
}
