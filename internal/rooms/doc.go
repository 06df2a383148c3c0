// Package rooms holds the in-memory room and member state the client
// builds from login snapshots and message pushes, plus the per-room
// ordered processing pipeline.
//
// Ownership:
//   - Cache: room entries; log ids only move forward.
//   - AliasTable: truncated (float-rounded) chat ids to canonical ids.
//   - MemberCache: additive per-room display names with a refresh TTL.
//   - Resolver: deduplicated member and room-info lookups.
//   - Pipeline: one worker goroutine per active room, torn down when idle.
package rooms
