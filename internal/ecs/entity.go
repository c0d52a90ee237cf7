// Package ecs implements the minimal entity-component-system substrate the
// runtime is built on (spec §2, §3 "Entity"). An Entity is an opaque handle
// with per-process lifetime; behavior comes entirely from which components
// are attached, mirroring the registry-with-mutex pattern the teacher uses
// for its own agent/toolset/model registries (runtime.Runtime), generalized
// here to arbitrary typed component stores keyed by Entity.
package ecs

import "sync/atomic"

// Entity is an opaque handle. The zero value is never valid; use NewEntity or World.Spawn.
type Entity uint64

var nextEntity atomic.Uint64

// NewEntity allocates a fresh, globally unique entity handle.
func NewEntity() Entity {
	return Entity(nextEntity.Add(1))
}

// Valid reports whether e was produced by NewEntity.
func (e Entity) Valid() bool { return e != 0 }
