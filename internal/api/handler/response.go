// Package handler implements the management API route handlers, one struct
// per concern, grounded on the teacher's internal/api/handler layout
// (NewLogsHandler, NewStatusHandler, ...).
package handler

import "github.com/gin-gonic/gin"

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
