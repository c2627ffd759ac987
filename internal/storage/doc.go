// Package storage provides the scheduler's persistence layer.
//
// It currently supports:
//   - Run history appends (one line/row per fired slot)
//   - Durable overlap locks (so a restart can report runs that died
//     holding one)
package storage
