package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/walkin-service/api"
	"github.com/psds-microservice/walkin-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handlers struct {
	Case   *handler.CaseHandler
	Agent  *handler.AgentHandler
	Stream *handler.StreamHandler
}

func New(h Handlers) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/cases/stream", h.Stream.Stream)
		v1.POST("/cases", h.Case.Create)
		v1.GET("/cases", h.Case.List)
		v1.GET("/cases/:id", h.Case.Get)
		v1.PATCH("/cases/:id", h.Case.Update)
		v1.DELETE("/cases/:id", h.Case.Delete)

		v1.GET("/agents", h.Agent.List)
		v1.POST("/agents", h.Agent.Create)
		v1.DELETE("/agents/:id", h.Agent.Delete)
	}

	return r
}
