// Package runner orchestrates asset generation jobs.
//
// A job plans once, then walks the LOD ladder in ascending order. For each
// LOD every part is synthesized on the shared worker pool, the fragments
// are assembled once all parts have finished, and the result is exported as
// a content-addressed artifact before the next LOD starts. Progress is
// appended to the job registry after every stage.
package runner
