// Package responder is the bridge brain. It consumes transport events, routes
// the !ai command surface, runs AI queries through the capability-aware tool
// loop and hands every reply to the delivery queue. One worker goroutine
// serves each inbound query; the delivery queue serializes all outbound
// traffic behind it.
package responder
