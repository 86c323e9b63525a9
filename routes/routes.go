package routes

import (
	"github.com/gin-gonic/gin"

	"kyc-document-api/controllers"
	"kyc-document-api/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Documents  *controllers.DocumentHandler
	Categories *controllers.CategoryHandler
	KYC        *controllers.KYCHandler
	Health     gin.HandlerFunc
	Metrics    gin.HandlerFunc
}

func SetupRoutes(router *gin.Engine, jwtSecret string, h Handlers) {
	v1 := router.Group("/api/v1")
	{
		// Public routes
		v1.GET("/health", h.Health)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			documents := protected.Group("/documents")
			{
				documents.POST("/upload", h.Documents.Upload)
				documents.GET("", h.Documents.List)
				documents.GET("/categories", h.Categories.List)
				documents.GET("/:id", h.Documents.Info)
				documents.GET("/:id/download", h.Documents.Download)
				documents.DELETE("/:id", h.Documents.Delete)
			}

			kyc := protected.Group("/kyc")
			{
				kyc.GET("/status", h.KYC.Status)
				kyc.POST("/submit", h.KYC.Submit)
			}

			// Compliance team only
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(middleware.RoleAdmin))
			{
				admin.GET("/kyc/:user_id", h.KYC.AdminStatus)
				admin.POST("/kyc/:user_id/approve", h.KYC.Approve)
				admin.POST("/kyc/:user_id/reject", h.KYC.Reject)
				admin.POST("/documents/:user_id/:id/review", h.KYC.ReviewDocument)

				admin.GET("/categories", h.Categories.AdminList)
				admin.PUT("/categories/:id", h.Categories.Upsert)
				admin.DELETE("/categories/:id", h.Categories.Deactivate)

				if h.Metrics != nil {
					admin.GET("/monitor/metrics", h.Metrics)
				}
			}
		}
	}
}
