//go:build linux

package config

// MetadataDir defaults to a relative hidden folder in the working directory
// so local development needs no elevated permissions. It is a var so tests
// and deployments can override it.
var MetadataDir = ".zmailbox_meta"
