//go:build swagger

// Package apidocs registers the OpenAPI document served under /swagger/.
// Regenerate the template with `swag init -g cmd/waitlistd/docs.go -o internal/apidocs`.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/sessions": {
            "post": {
                "produces": ["application/json"],
                "summary": "Mount a form instance",
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/types.SessionResponse"}}}
            }
        },
        "/api/sessions/{id}/submit": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Submit the form",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.SubmitRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SubmitResponse"}},
                    "422": {"description": "Invalid fields", "schema": {"$ref": "#/definitions/types.SubmitResponse"}},
                    "404": {"description": "Unknown session", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/captcha/verify": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Verify a CAPTCHA token",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.CaptchaVerifyRequest"}}],
                "responses": {
                    "200": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.CaptchaVerifyResponse"}},
                    "400": {"description": "Structural failure", "schema": {"$ref": "#/definitions/types.CaptchaVerifyResponse"}},
                    "403": {"description": "Policy rejection", "schema": {"$ref": "#/definitions/types.CaptchaVerifyResponse"}},
                    "500": {"description": "Verifier fault", "schema": {"$ref": "#/definitions/types.CaptchaVerifyResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}},
        "types.SessionResponse": {"type": "object", "properties": {"session_id": {"type": "string"}, "honeypot_field": {"type": "string"}}},
        "types.SubmitRequest": {"type": "object", "properties": {"values": {"type": "object"}, "honeypot": {"type": "string"}, "captcha_token": {"type": "string"}}},
        "types.SubmitResponse": {"type": "object", "properties": {"state": {"type": "string"}, "result": {"type": "string"}, "message": {"type": "string"}, "id": {"type": "string"}}},
        "types.CaptchaVerifyRequest": {"type": "object", "properties": {"token": {"type": "string"}}},
        "types.CaptchaVerifyResponse": {"type": "object", "properties": {"success": {"type": "boolean"}, "score": {"type": "number"}, "action": {"type": "string"}, "error": {"type": "string"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "waitlist API",
	Description:      "Waitlist form sessions and same-origin proxies.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
