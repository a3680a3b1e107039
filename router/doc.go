// Package router derives the isolation key for every conversation context and
// tracks the DM-only session lifecycle. History keys strictly separate direct
// messages, per-channel traffic and named sessions: the same sender on two
// different channel indices never shares a key.
package router
