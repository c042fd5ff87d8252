// Package policyfile loads per-stream retention policies from YAML and keeps
// a PolicyStore in sync with the file.
//
// A policy file looks like:
//
//	streams:
//	  api:
//	    rollover_max_age: 1d
//	    rollover_max_size: 5GiB
//	    delete_min_age: 30d
//	  redis:
//	    rollover_max_age: 1d
//	    rollover_max_size: 5GiB
//	    delete_min_age: 3d
//
// Load reports every invalid stream at once. Sync registers the loaded
// policies and removes streams that are no longer listed. Watcher reloads the
// file when it changes on disk.
package policyfile
