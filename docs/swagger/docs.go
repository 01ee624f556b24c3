// Package swagger holds the OpenAPI document served under /swagger.
// Regenerate with `go generate ./internal/server`.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "SiteAudit Maintainers",
            "url": "https://github.com/raysh454/siteaudit"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/server.HealthResponse"}}
                }
            }
        },
        "/analyze": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "summary": "Run a scan (battle mode when competitor_url is set)",
                "parameters": [
                    {"type": "string", "description": "caller id", "name": "X-User-ID", "in": "header"},
                    {"description": "scan target", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.AnalyzeRequest"}}
                ],
                "responses": {
                    "200": {"description": "newline-delimited progress events"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/tasks": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Queue a scan task",
                "parameters": [
                    {"description": "scan target", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.CreateTaskRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/app.Job"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/monitors": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create a monitor",
                "parameters": [
                    {"type": "string", "description": "owner id", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "monitor", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.CreateMonitorRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.Monitor"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/audits": {
            "get": {
                "produces": ["application/json"],
                "summary": "List audits for a URL",
                "parameters": [
                    {"type": "string", "description": "audited URL", "name": "url", "in": "query", "required": true},
                    {"type": "integer", "description": "max records (default 50)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.AuditRecord"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "server.AnalyzeRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"},
                "lang": {"type": "string", "example": "en"},
                "competitor_url": {"type": "string", "example": "https://rival.example"}
            }
        },
        "server.CreateTaskRequest": {
            "type": "object",
            "properties": {"url": {"type": "string", "example": "https://example.com"}}
        },
        "server.CreateMonitorRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"},
                "frequency": {"type": "string", "example": "daily"},
                "check_hour": {"type": "integer", "example": 9},
                "check_day": {"type": "integer", "example": 0},
                "alert_threshold": {"type": "integer", "example": 10}
            }
        },
        "server.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "timestamp": {"type": "string"}
            }
        },
        "server.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "not found"}}
        },
        "app.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "url": {"type": "string"},
                "status": {"type": "string", "example": "pending"},
                "error": {"type": "string"},
                "audit_id": {"type": "string"},
                "started_at": {"type": "string"},
                "ended_at": {"type": "string"}
            }
        },
        "model.Monitor": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "url": {"type": "string"},
                "frequency": {"type": "string"},
                "check_hour": {"type": "integer"},
                "check_day": {"type": "integer"},
                "alert_threshold": {"type": "integer"},
                "last_score": {"type": "integer"},
                "last_checked_at": {"type": "string"},
                "last_screenshot_path": {"type": "string"},
                "is_active": {"type": "boolean"},
                "created_at": {"type": "string"}
            }
        },
        "model.AuditRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "url": {"type": "string"},
                "score": {"type": "integer"},
                "summary": {"type": "object"},
                "source": {"type": "string"},
                "created_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "SiteAudit API",
	Description:      "Website audit scans, battle mode, async tasks and watchdog monitors.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
