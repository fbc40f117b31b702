// Package app assembles the service from its parts. It defines the main App
// struct, wires the store, engine, scheduler and HTTP API together from the
// resolved configuration, and owns the startup and shutdown lifecycle.
package app
