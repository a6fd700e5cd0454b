package handlers

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// DocsRoute serves the Swagger UI built from the handler annotations.
const DocsRoute = "/docs/*any"

// RegisterSwagger mounts the Swagger UI with operations collapsed and the bearer token kept across reloads.
func RegisterSwagger(r gin.IRoutes) {
	r.GET(DocsRoute, ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.DocExpansion("none"),
		ginSwagger.DeepLinking(true),
		ginSwagger.PersistAuthorization(true),
	))
}
