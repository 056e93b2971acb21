//go:build gcp

package gcs

// Enabled reports whether this binary was built with GCS support.
const Enabled = true
