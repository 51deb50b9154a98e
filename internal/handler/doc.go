// Package handler contains the HTTP handlers of the REST API.
//
// Handlers parse and validate requests, delegate to the service layer,
// and translate service errors into structured JSON responses. Each
// handler owns its route registration; no business logic lives here.
package handler
