// Package types defines the cluster declaration, host endpoint, and
// per-stage result structs shared across the bootstrap pipeline's
// components (C1-C9).
package types
