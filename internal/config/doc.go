// Package config loads spqs runtime configuration. Values start from
// Default(), are replaced by a JSON or YAML file and then by SPQS_*
// environment variables. Validate checks the result before the runtime
// opens any backend.
//
// Example:
//
//	cfg, err := config.Load("/etc/spqs.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
