package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/pkg/errors"
	"github.com/turtacn/progres-go/pkg/types/api"
)

// DatabasesResponse is the body of GET /api/v1/databases.
type DatabasesResponse struct {
	Model     string                `json:"model"`
	Default   string                `json:"default"`
	Databases []search.DatabaseInfo `json:"databases"`
}

// DatabasePolicy reports whether clients may search the named database.
type DatabasePolicy func(ref string) bool

// SearchHandler exposes the search service over JSON.
type SearchHandler struct {
	svc      search.Service
	defaults search.SearchParams
	allow    DatabasePolicy
	logger   logging.Logger
}

// NewSearchHandler serves svc. defaults fill parameters a request omits. A
// request may name the default database or any reference allow accepts;
// with a nil allow only the default is served. Other names are answered
// as not found without touching the filesystem or remote stores.
func NewSearchHandler(svc search.Service, defaults search.SearchParams, allow DatabasePolicy, logger logging.Logger) *SearchHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SearchHandler{svc: svc, defaults: defaults, allow: allow, logger: logger}
}

func (h *SearchHandler) databaseAllowed(ref string) bool {
	if ref == h.defaults.Database {
		return true
	}
	return h.allow != nil && h.allow(ref)
}

// RegisterRoutes mounts the search endpoints on r.
func (h *SearchHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/search", h.Search)
	r.POST("/score", h.Score)
	r.GET("/databases", h.Databases)
}

// Search embeds the uploaded structure and searches one database.
func (h *SearchHandler) Search(c *gin.Context) {
	var req api.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	q, err := toQuery(req.StructureUpload, "query")
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}

	params := h.defaults
	if req.Database != "" {
		if !h.databaseAllowed(req.Database) {
			writeAppError(c, h.logger, errors.DatabaseNotFound(req.Database))
			return
		}
		params.Database = req.Database
	}
	if req.Format != "" {
		params.Format = req.Format
	}
	if req.MinSimilarity != nil {
		params.MinSimilarity = *req.MinSimilarity
	}
	if req.MaxHits != nil {
		params.MaxHits = *req.MaxHits
	}
	if req.Split != nil {
		params.Split = *req.Split
	}

	res, err := h.svc.Search(c.Request.Context(), &search.SearchInput{Query: q, SearchParams: params})
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Score returns the Progres score between two uploaded structures.
func (h *SearchHandler) Score(c *gin.Context) {
	var req api.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	a, err := toQuery(req.A, "a")
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	b, err := toQuery(req.B, "b")
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	format := req.Format
	if format == "" {
		format = h.defaults.Format
	}
	res, err := h.svc.Score(c.Request.Context(), &search.ScoreInput{A: a, B: b, Format: format})
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Databases lists the databases loaded so far.
func (h *SearchHandler) Databases(c *gin.Context) {
	c.JSON(http.StatusOK, DatabasesResponse{
		Model:     h.svc.Model().String(),
		Default:   h.defaults.Database,
		Databases: h.svc.Databases(),
	})
}

// toQuery converts an upload into a service query. field names the upload
// in error messages.
func toQuery(u api.StructureUpload, field string) (search.Query, error) {
	data, err := u.Bytes(field)
	if err != nil {
		return search.Query{}, err
	}
	name := u.Filename
	if name == "" {
		name = "upload"
	}
	return search.Query{Path: name, ID: u.ID, Note: u.Note, Content: data}, nil
}
