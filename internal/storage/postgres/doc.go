// Package pgstore implements the queue and journal storage contracts on
// PostgreSQL using pgx. Call Migrate once before use.
package pgstore
