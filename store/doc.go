// Package store persists pause state outside the host process.
//
// RedisSnapshots keeps the latest pause snapshot per printer so a restarted host can
// tell where a parked job stopped. Journal appends every pause transition to a
// Postgres table through gorm.
//
// Both types expose a PauseHandler that can be registered with
// printer.Connection.AddPauseHandler.
package store
