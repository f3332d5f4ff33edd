// internal/api/notifications.go
package api

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) listNotifications(c *gin.Context) {
	page := pageFromQuery(c)
	notes, err := s.deps.Store.ListNotifications(c.Request.Context(), principal(c).UserID, c.Query("unread") == "true", page)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: notes, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.deps.Store.MarkNotificationRead(c.Request.Context(), principal(c).UserID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	n, err := s.deps.Store.MarkAllNotificationsRead(c.Request.Context(), principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": n})
}
