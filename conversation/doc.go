// Package conversation persists dialogue state in two layers: an ambient
// history store holding the rolling context of every isolation key, and a
// named conversation manager that archives snapshots into per-user slots for
// later recall. Both layers write through to disk so context survives process
// restarts.
package conversation
