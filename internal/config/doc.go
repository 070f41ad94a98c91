// Package config provides the configuration of privscan.
//
// A Config starts from the defaults of NewConfig, is overlaid with an
// optional YAML file (LoadFile, FindConfigFile) and then with PRIVSCAN_*
// environment variables (ApplyEnv). Validate reports the first invalid
// setting as a sentinel error.
package config
