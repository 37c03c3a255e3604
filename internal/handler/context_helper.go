package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cliniclink-api/internal/middleware"
	"github.com/noah-isme/cliniclink-api/internal/models"
)

func currentUser(c *gin.Context) models.CurrentUser {
	return middleware.Claims(c).CurrentUser()
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
