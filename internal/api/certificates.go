package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) verifyCertificate(c *gin.Context) {
	if s.Certs == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "certificates not configured", "code": "unavailable"})
		return
	}
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := s.Certs.Verify(body.Token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "claims": claims})
}
