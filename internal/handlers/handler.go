package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/lifecycle"
	"crowdtask-api/internal/middleware"
	"crowdtask-api/internal/tasktype"

	"github.com/gin-gonic/gin"
)

// DataField is the multipart field carrying the JSON body of an upload.
const DataField = "data"

// Operation is one entry of the lifecycle catalogue.
type Operation func(context.Context, *tasktype.Request) (*lifecycle.Result, error)

// Handler adapts lifecycle operations to gin.
type Handler struct {
	svc     *lifecycle.Service
	log     *slog.Logger
	maxBody int64
}

// NewHandler caps request bodies at maxBody bytes.
func NewHandler(svc *lifecycle.Service, log *slog.Logger, maxBody int64) *Handler {
	return &Handler{svc: svc, log: log, maxBody: maxBody}
}

// Wrap turns op into a gin handler: it builds the request from the path id,
// query, body and uploads, then writes the result or the error payload.
func (h *Handler) Wrap(op Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := h.request(c)
		if req != nil && req.Form != nil {
			defer func() { _ = req.Form.RemoveAll() }()
		}
		if err != nil {
			h.respondError(c, err)
			return
		}
		res, err := op(c.Request.Context(), req)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(res.Status, res.Body)
	}
}

func (h *Handler) request(c *gin.Context) (*tasktype.Request, error) {
	query := c.Request.URL.Query()
	// the token is a credential, not a filter
	query.Del("token")
	req := &tasktype.Request{
		Principal: middleware.Principal(c),
		ID:        c.Param("id"),
		Query:     query,
		Ledger:    middleware.Ledger(c),
	}
	if c.Request.Body == nil || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodDelete {
		return req, nil
	}
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}

	if strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return req, bodyError(err)
		}
		req.Form = form
		if v := form.Value[DataField]; len(v) > 0 {
			req.Body = []byte(v[0])
		}
		return req, nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return req, bodyError(err)
	}
	req.Body = raw
	return req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.Invalid("Request body too large")
	}
	return apperror.Schema("Invalid request body")
}

func (h *Handler) respondError(c *gin.Context, err error) {
	e := apperror.As(err)
	if e.Kind == apperror.KindInternal {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(e.HTTPStatus(), e.Payload())
}
