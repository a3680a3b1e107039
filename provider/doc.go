// Package provider defines the uniform contract over conversational AI
// backends. Each adapter translates the normalized request/response shapes
// into its vendor SDK at the boundary, so the orchestrator never branches on
// the active backend. Backend failures are classified by HTTP status family
// into short user-facing strings suitable for radio transmission.
package provider
