// Package config provides loading and environment overlay for flobus
// configuration. It exposes a Default() baseline that file and environment
// values are layered onto.
//
// Example:
//
//	cfg, err := config.Load("/etc/flobus.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
