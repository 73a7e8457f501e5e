// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/server/main.go
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
        "/cards": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["cards"],
                "summary": "List the caller's cards",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.CardResponse"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/cards/{id}/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["cards"],
                "summary": "Get card balance",
                "parameters": [{"type": "string", "description": "Card ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.BalanceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/cards/{id}/transfers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transfers"],
                "summary": "List the transfer history of one of the caller's cards",
                "parameters": [{"type": "string", "description": "Card ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.TransferListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/transfers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transfers"],
                "summary": "List transfers touching any of the caller's cards",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.TransferListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["transfers"],
                "summary": "Transfer money between two of the caller's cards",
                "parameters": [{"description": "Transfer data", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.TransferRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.TransferResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/transfers/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["transfers"],
                "summary": "Get a transfer the caller took part in",
                "parameters": [{"type": "string", "description": "Transfer ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.TransferResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "card_status": {"type": "string"},
                "available": {"type": "string"},
                "requested": {"type": "string"}
            }
        },
        "handler.BalanceResponse": {
            "type": "object",
            "properties": {
                "card_id": {"type": "string"},
                "balance": {"type": "string"}
            }
        },
        "handler.CardResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "number": {"type": "string"},
                "holder_name": {"type": "string"},
                "expiry_date": {"type": "string"},
                "status": {"type": "string"},
                "balance": {"type": "string"}
            }
        },
        "handler.TransferRequest": {
            "type": "object",
            "required": ["amount", "destination_card_number", "source_card_id"],
            "properties": {
                "source_card_id": {"type": "string"},
                "destination_card_number": {"type": "string"},
                "amount": {"type": "string"},
                "description": {"type": "string", "maxLength": 255}
            }
        },
        "handler.TransferResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source_card_id": {"type": "string"},
                "source_card_number": {"type": "string"},
                "destination_card_id": {"type": "string"},
                "destination_card_number": {"type": "string"},
                "amount": {"type": "string"},
                "description": {"type": "string"},
                "status": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "handler.TransferListResponse": {
            "type": "object",
            "properties": {
                "transfers": {"type": "array", "items": {"$ref": "#/definitions/handler.TransferResponse"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{"http"},
	Title:            "Bank Cards API",
	Description:      "Card-to-card transfers between a user's own cards, with encrypted card storage and masked display.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
