// Package core defines the shared data model for meshbridge: conversation
// entries, normalized tool-call request/result pairs, destination addressing
// for the mesh network and the error taxonomy used across subsystems.
package core
