// Package journal provides an append-only, positionally addressed record of
// messages sent, received and published, and a polling Consumer that replays
// it into message handlers.
//
// Positions are opaque, totally ordered cursors minted by the Store. A Read
// returns up to count entries at or after a start position that satisfy a
// Filter, the Next cursor and whether the end of the journal was reached.
// Filtering is applied after ordering, so an unmatched entry never causes a
// later matching one to be skipped.
package journal
