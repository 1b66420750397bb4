// Package pipeline exposes search, download and batch conversion as
// commands that run on a small background pool and return Task futures.
// Presentation layers (the CLI and the HTTP server) call Service and render
// the status log; nothing here knows about them.
package pipeline
