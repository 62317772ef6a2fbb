//go:build !linux

package config

var MetadataDir = ".zmailbox_meta"
