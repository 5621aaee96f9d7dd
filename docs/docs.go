// Package docs registers the OpenAPI description of the pipeline API with swag.
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
        "/pipelines": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "List all pipelines",
                "responses": {
                    "200": {"description": "List of pipelines", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.Job"}}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Create a new pipeline",
                "parameters": [
                    {"in": "body", "name": "pipeline", "required": true, "schema": {"$ref": "#/definitions/model.PipelineJobSpec"}}
                ],
                "responses": {
                    "202": {"description": "Pipeline accepted"},
                    "400": {"description": "Invalid request payload"}
                }
            }
        },
        "/pipelines/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get pipeline",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Pipeline details", "schema": {"$ref": "#/definitions/model.Job"}},
                    "404": {"description": "Pipeline not found"}
                }
            }
        },
        "/pipelines/{id}/errors": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get pipeline errors",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Pipeline errors"}, "404": {"description": "Pipeline not found"}}
            }
        },
        "/pipelines/{id}/progress": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get pipeline progress",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Stage progress"}, "404": {"description": "Pipeline not found"}}
            }
        },
        "/pipelines/{id}/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get pipeline results",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Pipeline results"}, "409": {"description": "Results not available yet"}}
            }
        },
        "/pipelines/{id}/records": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get cleaned records",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "line", "in": "query"},
                    {"type": "string", "name": "circuit", "in": "query"},
                    {"type": "string", "name": "device", "in": "query"},
                    {"type": "integer", "default": 100, "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "Cleaned records"}, "409": {"description": "Results not available yet"}}
            }
        },
        "/pipelines/{id}/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get entity statistics",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "line", "in": "query"},
                    {"type": "string", "name": "circuit", "in": "query"},
                    {"type": "string", "name": "device", "in": "query"}
                ],
                "responses": {"200": {"description": "Entity statistics"}, "409": {"description": "Results not available yet"}}
            }
        },
        "/pipelines/{id}/outliers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Get outliers",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 100, "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "Outliers"}, "409": {"description": "Results not available yet"}}
            }
        },
        "/pipelines/{id}/files/{name}": {
            "get": {
                "produces": ["application/octet-stream"],
                "tags": ["pipelines"],
                "summary": "Download an exported file",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "name", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "Exported file", "schema": {"type": "file"}}, "404": {"description": "File not found"}}
            }
        },
        "/pipelines/{id}/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["pipelines"],
                "summary": "Retry pipeline",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Retry initiated"}, "409": {"description": "Pipeline still running"}}
            }
        }
    },
    "definitions": {
        "model.Source": {
            "type": "object",
            "properties": {"type": {"type": "string"}, "url": {"type": "string"}}
        },
        "model.ComplianceConfig": {
            "type": "object",
            "properties": {
                "maxGapDays": {"type": "number"},
                "minAlkaliMinutes": {"type": "number"},
                "precision": {"type": "integer"},
                "groupBy": {"type": "string", "enum": ["device", "circuit", "line"]}
            }
        },
        "model.Export": {
            "type": "object",
            "properties": {
                "dir": {"type": "string"},
                "formats": {"type": "array", "items": {"type": "string", "enum": ["csv", "json", "parquet"]}}
            }
        },
        "model.Workers": {
            "type": "object",
            "properties": {"gap": {"type": "integer"}}
        },
        "model.PipelineJobSpec": {
            "type": "object",
            "properties": {
                "source": {"$ref": "#/definitions/model.Source"},
                "columns": {"type": "object", "additionalProperties": {"type": "string"}},
                "compliance": {"$ref": "#/definitions/model.ComplianceConfig"},
                "export": {"$ref": "#/definitions/model.Export"},
                "workers": {"$ref": "#/definitions/model.Workers"}
            }
        },
        "model.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "spec": {"$ref": "#/definitions/model.PipelineJobSpec"},
                "status": {"type": "string", "enum": ["pending", "running", "completed", "failed"]},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
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
	Title:            "CIP Compliance Pipeline API",
	Description:      "Submit CIP wash-cycle logs and read cleaned cycles, time-gap compliance and line profiles.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
