// ilm is an index lifecycle manager for log streams.
//
// It tracks the indices behind each log stream (api, postgres, redis, minio,
// web, ...), rolls the active index over when it gets too old or too large
// and deletes rolled indices once they pass the stream's retention age.
//
// Usage:
//
//	# Start the daemon with the default configuration
//	ilm run
//
//	# Start with a configuration file
//	ilm run --config /etc/ilm/config.yaml
//
//	# Check configuration and policy file
//	ilm validate --config config.yaml
//
//	# Show what a cycle would do tomorrow, from persisted state
//	ilm evaluate --at 2026-03-02T00:00:00Z
//
//	# Inspect records and the action journal
//	ilm records --stream api
//	ilm journal --stream api --status failed
package main

import "os"

func main() {
	os.Exit(Execute())
}
