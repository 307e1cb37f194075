package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copad/copad/internal/document"
	"github.com/copad/copad/internal/document/service"
)

// requester returns the authenticated subject for the request. The auth
// middleware stores verified claims; the X-User-ID header is the dev/test
// fallback when the API runs without a verifier.
func requester(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if cm, ok2 := v.(map[string]interface{}); ok2 {
			if sub, ok3 := cm["sub"].(string); ok3 && sub != "" {
				return sub
			}
		}
	}
	return c.GetHeader("X-User-ID")
}

func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrBadIndex):
		c.JSON(http.StatusBadRequest, gin.H{"error": "version index out of range"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func RegisterDocumentRoutes(r gin.IRouter, svc service.Service) {
	r.GET("/api/documents", func(c *gin.Context) {
		list, err := svc.List()
		if err != nil {
			writeErr(c, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, d := range list {
			out = append(out, map[string]interface{}{"id": d.ID, "title": d.Title, "ownerId": d.OwnerID, "updatedAt": d.UpdatedAt})
		}
		c.JSON(http.StatusOK, out)
	})

	r.POST("/api/documents", func(c *gin.Context) {
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			Private bool   `json:"private"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d := &document.Document{Title: req.Title, Content: req.Content, OwnerID: requester(c), Private: req.Private}
		id, err := svc.Create(d)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id, "title": d.Title})
	})

	r.GET("/api/documents/:id", func(c *gin.Context) {
		d, err := svc.Get(c.Param("id"), requester(c))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.PATCH("/api/documents/:id", func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Title   *string `json:"title,omitempty"`
			Content string  `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.Update(id, req.Content, requester(c), req.Title); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	r.GET("/api/documents/:id/versions", func(c *gin.Context) {
		d, err := svc.Get(c.Param("id"), requester(c))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, d.Versions)
	})

	r.POST("/api/documents/:id/revert", func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Index int `json:"index"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.Revert(id, req.Index, requester(c))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.DELETE("/api/documents/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Param("id"), requester(c)); err != nil {
			writeErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
