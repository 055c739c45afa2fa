// Exifquarter ledger is the credit backend for the exifquarter image
// service.
//
// It tracks per-identity credit balances, charges conversions,
// geotagging, and bulk downloads against them, resets balances to their
// baseline on a rolling window, and keeps serving from an in-process
// fallback when its primary store is down.
//
// Usage:
//
//	# Start the ledger with default configuration
//	exifquarter run
//
//	# Start with a custom configuration file
//	exifquarter run --config /etc/exifquarter/ledger.yaml
//
//	# Delete stale records once and exit
//	exifquarter sweep
//
//	# Validate a configuration file
//	exifquarter validate --config ledger.yaml
//
//	# Show version information
//	exifquarter version
package main

func main() {
	Execute()
}
