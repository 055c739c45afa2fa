// Package config loads, validates, and hot-reloads the exifquarter
// ledger configuration.
//
// Configuration comes from a YAML file with environment variable
// overrides (EXIFQUARTER_SECTION_FIELD). Defaults are applied before
// validation, so an empty file is a valid configuration.
//
// # Example
//
//	cfg, err := config.LoadConfigWithEnvOverrides("ledger.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
