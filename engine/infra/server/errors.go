package server

import (
	"github.com/comfyflow/agentmode/engine/core"
	"github.com/gin-gonic/gin"
)

const (
	ErrBadRequestCode = "BAD_REQUEST"
	ErrInternalCode   = "INTERNAL_ERROR"
)

// ErrorInfo is the error body of a failed JSON response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorInfo{Code: code, Message: core.RedactError(err)}})
}
