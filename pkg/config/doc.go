// Package config loads the daemon configuration.
//
// A configuration file is YAML. Every section is optional:
//
//	server:
//	  listen_address: 0.0.0.0:9280
//	policies:
//	  file: /etc/ilm/policies.yaml
//	  watch: true
//	schedule:
//	  cron: "*/5 * * * *"
//	  max_attempts: 3
//	state:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/ilm/state.db
//	journal:
//	  retention:
//	    days: 30
//	archive:
//	  enabled: true
//	  type: s3
//	  s3:
//	    bucket: logs-archive
//	    prefix: ilm/manifests
//
// The file is decoded over NewDefaultConfig, so an omitted field keeps its
// default and a boolean that defaults to true can still be set to false.
// LoadConfigWithEnvOverrides then applies ILM_* variables named after the
// YAML path, for example ILM_SCHEDULE_CRON or ILM_ARCHIVE_S3_BUCKET, and
// validates the result. All validation problems are reported together in a
// single ValidationError.
//
// The run command publishes its configuration through Initialize and
// GetConfig. Everything else receives a *Config explicitly.
package config
