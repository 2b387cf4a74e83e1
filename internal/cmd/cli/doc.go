// Package cli contains the Cobra commands of the flobus binary. Commands
// open the configured backend in process through internal/runtime.
package cli
