package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xscopehub/consultd/internal/audit"
	"github.com/xscopehub/consultd/internal/limiter"
	"github.com/xscopehub/consultd/internal/model"
)

const principalKey = "consultd.principal"

// authenticate resolves the caller once per request. Missing credentials
// leave the principal anonymous and the service decides; bad credentials
// stop here.
func (h *Handler) authenticate(c *gin.Context) {
	if h.auth == nil {
		c.Next()
		return
	}
	p, err := h.auth.Principal(c.Request)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Set(principalKey, p)
	c.Next()
}

func principalFrom(c *gin.Context) model.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(model.Principal); ok {
			return p
		}
	}
	return model.Principal{}
}

// limited applies the per-principal allowance to mutating routes. Anonymous
// callers pass through to be rejected by the service, and a failing shared
// limiter fails open.
func (h *Handler) limited(c *gin.Context) {
	p := principalFrom(c)
	if h.limiter == nil || p.Anonymous() {
		c.Next()
		return
	}
	if err := h.limiter.Allow(c.Request.Context(), p.ID.String(), "mutate"); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{Success: false, Error: err.Error()})
			return
		}
		h.logger.Warn("rate limiter unavailable", "error", err)
	}
	c.Next()
}

// audited records the outcome of a mutating operation.
func (h *Handler) audited(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := audit.Entry{
			Operation: op,
			CaseID:    c.Param("id"),
			FileID:    c.Param("fileID"),
			Status:    c.Writer.Status(),
			Duration:  time.Since(start),
			RemoteIP:  c.ClientIP(),
		}
		if p := principalFrom(c); !p.Anonymous() {
			entry.Principal = p.ID.String()
		}
		if last := c.Errors.Last(); last != nil {
			entry.Error = last.Err.Error()
		}
		h.audit.Log(entry)
	}
}
