package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netoffice/internal/approval"
)

func (s *Server) listApprovals(c *gin.Context) {
	var requests []approval.Request
	if v := c.Query("status"); v != "" {
		status, err := approval.ParseStatus(v)
		if err != nil {
			s.fail(c, err)
			return
		}
		requests = s.Approvals.ListByStatus(status)
	} else {
		requests = s.Approvals.List()
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "counts": s.Approvals.Counts()})
}

func (s *Server) submitApproval(c *gin.Context) {
	var sub approval.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}
	req, err := s.Approvals.Submit(sub)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *Server) getApproval(c *gin.Context) {
	req, err := s.Approvals.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type resolutionRequest struct {
	Action approval.Action `json:"action" binding:"required"`
	Reason string          `json:"reason"`
}

func (s *Server) resolveApproval(c *gin.Context) {
	var body resolutionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := s.Approvals.Resolve(c.Param("id"), body.Action, body.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "counts": s.Approvals.Counts()})
}
