package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sim_server/server/common/auth"
	"sim_server/server/common/middleware"
	"sim_server/server/common/transport/httpresp"
	"sim_server/server/simsearch/index"
	"sim_server/server/simsearch/service"
)

type Handler struct {
	search *service.SearchService
	index  *index.Index
	auth   *auth.Service // nil leaves the API open
}

func NewHandler(search *service.SearchService, ix *index.Index, authSvc *auth.Service) *Handler {
	return &Handler{search: search, index: ix, auth: authSvc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.root)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1/articles")
	if h.auth != nil {
		api.Use(middleware.AuthRequired(h.auth))
	}
	{
		api.POST("/search", h.searchArticles)
		api.GET("/mappings", h.mappings)
	}
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":    "sim_server is running",
		"index_size": h.index.Size(),
		"dimension":  h.index.Dimension(),
	})
}

func (h *Handler) searchArticles(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
		K     int    `json:"k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrQueryRequired))
		return
	}

	results, err := h.search.SearchText(c.Request.Context(), req.Query, req.K)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, results)
}

// mappings dumps the slot → article-id table, mirroring what the index
// would reload from disk. Mostly an operator aid.
func (h *Handler) mappings(c *gin.Context) {
	c.JSON(http.StatusOK, h.index.Mappings())
}
