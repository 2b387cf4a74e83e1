// Package memory provides in-process queue and journal stores. Nothing
// survives the process; it backs tests and ephemeral buses.
package memory
