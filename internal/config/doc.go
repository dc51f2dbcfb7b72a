// Package config loads daxiqd configuration.
//
// Values start from Default, are overlaid by an optional YAML file and then by
// DAXIQ_* environment variables, and are validated last.
package config
