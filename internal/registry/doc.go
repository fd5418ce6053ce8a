// Package registry holds the process-wide tables of open kernel objects.
//
// Tables are created lazily by their owners on first use and are never torn
// down while the process runs. Callers only register, look up and unregister;
// the maps themselves are never exposed.
//
// Components:
//   - Table: id -> object map guarded by one RWMutex
//   - IPCLock: process mutex + flock used around create-or-open of named objects
//
// Example Usage:
//
//	threads := registry.NewTable[*Thread]()
//	id := threads.Register(t)
//	t, ok := threads.Lookup(id)
//	threads.Unregister(id)
package registry
