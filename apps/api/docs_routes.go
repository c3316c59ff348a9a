package main

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/contracts"
)

const openapiPath = "/openapi.json"

const swaggerUIPage = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Palmyra Provisioning API - Swagger UI</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({ url: '` + openapiPath + `', dom_id: '#swagger-ui', deepLinking: true });
    </script>
  </body>
</html>`

func registerDocsRoutes(router chi.Router, logger *zap.Logger) {
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(swaggerUIPage))
	})
	router.Get(openapiPath, openapiJSONHandler(logger))
}

// openapiJSONHandler renders the embedded contract once and serves the cached bytes.
func openapiJSONHandler(logger *zap.Logger) http.HandlerFunc {
	render := sync.OnceValues(func() ([]byte, error) {
		spec, err := contracts.Provisioning()
		if err != nil {
			return nil, err
		}
		return spec.MarshalJSON()
	})

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := render()
		if err != nil {
			logger.Error("render openapi contract", zap.Error(err))
			http.Error(w, "failed to load OpenAPI", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}
