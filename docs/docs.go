package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Supplement Recommendation API",
    "description": "Supplement suggestions for collision repair estimates from trigger rules and mined claim history",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/api/recommendations": {
      "post": {
        "tags": ["recommendations"],
        "summary": "Recommend supplements",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "502": {"description": "Pattern lookup failed"}}
      }
    },
    "/api/triggers/evaluate": {
      "post": {
        "tags": ["recommendations"],
        "summary": "Evaluate trigger rules",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
      }
    },
    "/api/patterns": {
      "get": {
        "tags": ["patterns"],
        "summary": "List patterns",
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
      }
    },
    "/api/patterns/mine": {
      "post": {
        "tags": ["patterns"],
        "summary": "Mine patterns",
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "500": {"description": "Internal Server Error"}}
      }
    },
    "/api/runs/latest": {
      "get": {
        "tags": ["runs"],
        "summary": "Latest mining run",
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
      }
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
