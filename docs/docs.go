// Package docs registers the OpenAPI description of the report API with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/reports": {
            "get": {
                "description": "List report jobs, newest first, optionally filtered by tenant and user",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "List reports",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "tenant", "in": "query"},
                    {"type": "string", "description": "User ID", "name": "user", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Report jobs", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.JobSummary"}}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Queue the report registered for scope.jobType, narrowed by filters and period. Requests carrying other fields, such as a query, are rejected. An active job for the same scope is returned instead of creating a new one.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Start a report",
                "parameters": [
                    {"description": "Report request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.StartRequest"}}
                ],
                "responses": {
                    "200": {"description": "Active report job reused", "schema": {"$ref": "#/definitions/handler.StartResponse"}},
                    "201": {"description": "Report job created", "schema": {"$ref": "#/definitions/handler.StartResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "502": {"description": "Worker could not be launched", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/reports/{id}/status": {
            "get": {
                "description": "Poll the progress of a report job with its monitor token",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report status",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Monitor token (or X-Report-Token header)", "name": "token", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Job progress", "schema": {"$ref": "#/definitions/model.JobView"}},
                    "403": {"description": "Token rejected", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "410": {"description": "Job failed or went stale, start a new one", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/reports/{id}/pages/{page}": {
            "get": {
                "description": "Read one page of rows of a completed report. The last page carries the totals row.",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report page",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Zero-based page index", "name": "page", "in": "path", "required": true},
                    {"type": "integer", "description": "Rows per page", "name": "size", "in": "query"},
                    {"type": "string", "description": "Monitor token (or X-Report-Token header)", "name": "token", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Report page", "schema": {"$ref": "#/definitions/model.Page"}},
                    "400": {"description": "Invalid page or size", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "403": {"description": "Token rejected", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Job or page not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Report not completed yet", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "410": {"description": "Job failed, went stale or lost its index, start a new one", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/reports/{id}/errors": {
            "get": {
                "description": "Retrieve the error history of a report job",
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Get report errors",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Monitor token (or X-Report-Token header)", "name": "token", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Job errors", "schema": {"$ref": "#/definitions/handler.ErrorsResponse"}},
                    "403": {"description": "Token rejected", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/reports/{id}/download": {
            "get": {
                "description": "Download the complete CSV of a finished report with its download token",
                "produces": ["text/csv"],
                "tags": ["reports"],
                "summary": "Download report",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Download token (or X-Report-Token header)", "name": "token", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Report CSV", "schema": {"type": "file"}},
                    "403": {"description": "Token rejected", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Report not completed yet", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "410": {"description": "Job failed or went stale, start a new one", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "field": {"type": "string"}
            }
        },
        "handler.ErrorsResponse": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "count": {"type": "integer"},
                "errors": {"type": "array", "items": {"$ref": "#/definitions/model.JobError"}}
            }
        },
        "handler.JobSummary": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "scope": {"$ref": "#/definitions/model.Scope"},
                "status": {"type": "string"},
                "recordsCompleted": {"type": "integer"},
                "recordsToProcess": {"type": "integer"},
                "errorMessage": {"type": "string"},
                "createdAt": {"type": "string"},
                "expiresAt": {"type": "string"}
            }
        },
        "handler.StartResponse": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "status": {"type": "string"},
                "reused": {"type": "boolean"},
                "tokens": {"$ref": "#/definitions/model.Tokens"},
                "statusURL": {"type": "string"},
                "downloadURL": {"type": "string"}
            }
        },
        "model.Column": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "label": {"type": "string"},
                "summable": {"type": "boolean"}
            }
        },
        "model.DateRange": {
            "type": "object",
            "properties": {
                "field": {"type": "string"},
                "from": {"type": "string"},
                "to": {"type": "string"}
            }
        },
        "model.JobError": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "message": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "model.JobView": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "status": {"type": "string"},
                "recordsCompleted": {"type": "integer"},
                "recordsToProcess": {"type": "integer"}
            }
        },
        "model.Page": {
            "type": "object",
            "properties": {
                "jobID": {"type": "string"},
                "pageIndex": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "pageCount": {"type": "integer"},
                "lastPage": {"type": "boolean"},
                "header": {"type": "array", "items": {"type": "string"}},
                "rows": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}},
                "totals": {"type": "array", "items": {"type": "string"}}
            }
        },
        "model.RangeFilter": {
            "type": "object",
            "properties": {
                "field": {"type": "string"},
                "min": {"type": "number"},
                "max": {"type": "number"}
            }
        },
        "model.Scope": {
            "type": "object",
            "properties": {
                "tenantID": {"type": "string"},
                "userID": {"type": "string"},
                "jobType": {"type": "string"}
            }
        },
        "model.StartRequest": {
            "type": "object",
            "properties": {
                "scope": {"$ref": "#/definitions/model.Scope"},
                "columns": {"type": "array", "items": {"$ref": "#/definitions/model.Column"}},
                "filters": {"type": "array", "items": {"$ref": "#/definitions/model.RangeFilter"}},
                "period": {"$ref": "#/definitions/model.DateRange"}
            }
        },
        "model.Tokens": {
            "type": "object",
            "properties": {
                "monitor": {"type": "string"},
                "download": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Report Pipeline API",
	Description:      "Asynchronous bulk CSV reports with paged previews and token-guarded downloads.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
