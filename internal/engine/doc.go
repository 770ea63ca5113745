// Package engine defines the boundary to the blocking video generation
// engine: the full parameter set with its centralized defaults, the
// per-call session state, the progress callback, and the interfaces a
// concrete engine implementation (or a test stub) must satisfy.
package engine
