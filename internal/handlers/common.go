package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/pkg/response"
)

// parseID reads the numeric :id path parameter, writing a 400 on failure.
func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+what+" id")
		return 0, false
	}
	return uint(id), true
}
