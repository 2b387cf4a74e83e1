// Package handling routes delivered messages to handlers by specification.
package handling
