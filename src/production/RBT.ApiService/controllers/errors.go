package controllers

import (
	"github.com/gin-gonic/gin"
)

// abortWithError writes the uniform {"error": ...} body
func abortWithError(ctx *gin.Context, status int, message string) {
	ctx.AbortWithStatusJSON(status, gin.H{"error": message})
}
