// Package api holds the request and response types of the VoxelForge HTTP API.
//
// # API Overview
//
// VoxelForge exposes a small REST surface:
//   - POST /api/v1/assets submits a generation job and answers 202 with its id
//   - GET /api/v1/jobs/{jobID} returns the job manifest
//   - GET /artifacts/voxels/{file} serves an exported voxel document
//   - GET /health, /healthz, /ready and /version for probes
//
// Metrics are served on a separate port at /metrics.
//
// Every JSON response uses the envelope
//
//	{"success": true, "data": ..., "error": {...}, "timestamp": ...}
//
// # Base URL
//
//	http://localhost:8080
package api
