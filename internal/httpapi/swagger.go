//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

const docTemplate = `{
  "swagger": "2.0",
  "info": {"title": "vramsply status API", "version": "{{.Version}}", "description": "Local status endpoints of the vramsply node agent."},
  "basePath": "{{.BasePath}}",
  "paths": {
    "/healthz": {"get": {"summary": "Liveness probe", "responses": {"200": {"description": "ok"}}}},
    "/readyz": {"get": {"summary": "Readiness probe", "responses": {"200": {"description": "ready"}, "503": {"description": "not ready"}}}},
    "/status": {"get": {"summary": "Agent status", "produces": ["application/json"], "responses": {"200": {"description": "status"}}}},
    "/metrics": {"get": {"summary": "Prometheus metrics", "responses": {"200": {"description": "metrics"}}}}
  }
}`

// SwaggerInfo holds the exported Swagger info.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "vramsply status API",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
