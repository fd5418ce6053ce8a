// Package shm maps named shared-memory objects.
//
// A named object is identified by a (name, domain) pair; ObjectName turns the
// pair into a file name so identical names in different domains never collide.
// Objects live in a tmpfs directory and are mapped with MAP_SHARED, which makes
// every store visible to all processes mapping the same object.
//
// Components:
//   - Segment: one mapping of a named object (create, open, resize, close)
//   - Unlink / Exists: backing object management
//   - FileLock: flock-based lock used to serialise create-or-open across processes
//
// Example Usage:
//
//	dir := shm.ResolveDir("/dev/shm")
//	seg, err := shm.Create(dir, shm.ObjectName("kit", "port", "events"), 4096, 0o600)
//	if err != nil {
//		return err
//	}
//	defer seg.Close()
package shm
