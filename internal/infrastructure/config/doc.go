// Package config handles loading and validating Guestlink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GUESTLINK_* environment variables
//   - Validation of required fields, reporting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagValue))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Radio.Backend)
package config
