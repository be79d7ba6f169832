package main

// General API documentation for swaggo. Regenerate with
// `swag init -g cmd/waitlistd/docs.go -o internal/apidocs`.
//
// @title           waitlist API
// @version         1.0
// @description     Waitlist form sessions, submission pipeline and same-origin proxies.
//
// @BasePath  /
//
// @schemes http https
