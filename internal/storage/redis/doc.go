// Package redisstore implements the queue and journal storage contracts on
// Redis.
//
// Keyspace, all under a configurable prefix:
//
//	{prefix}:q:{queue}:msgs     hash   message id -> queued record
//	{prefix}:q:{queue}:pending  zset   message id scored by enqueue sequence
//	{prefix}:q:{queue}:dlq      zset   abandoned message ids
//	{prefix}:q:{queue}:seq      string enqueue sequence counter
//	{prefix}:journal            stream journal entries, field "r" holds the record
//	{prefix}:checkpoints        hash   consumer name -> position
//
// Journal positions are stream ids and parse as journal.StreamPosition.
package redisstore
