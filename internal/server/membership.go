package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addMemberQuery struct {
	UserID      string `form:"user_id" binding:"required"`
	AccessLevel string `form:"access_level" binding:"required"`
}

type accessLevelQuery struct {
	AccessLevel string `form:"access_level" binding:"required"`
}

func (s *Server) AddMember(c *gin.Context) {
	var query addMemberQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("query", "invalid_request", "user_id and access_level are required"))
		return
	}

	resp, err := s.membershipSvc.AddMember(c.Request.Context(), c.Param("id"), query.UserID, query.AccessLevel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateAccessLevel(c *gin.Context) {
	var query accessLevelQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("access_level", "invalid_access_level", "access_level is required"))
		return
	}

	resp, err := s.membershipSvc.UpdateAccessLevel(c.Request.Context(), c.Param("id"), c.Param("user_id"), query.AccessLevel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RemoveAccessEntry(c *gin.Context) {
	resp, err := s.membershipSvc.RemoveAccessEntry(c.Request.Context(), c.Param("id"), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RemoveMember(c *gin.Context) {
	resp, err := s.membershipSvc.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
