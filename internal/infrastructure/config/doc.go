// Package config handles loading and validating Matter Cloud Core
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MCC_* prefix)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT passwords, InfluxDB tokens) should be set via
//     environment variables rather than the config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.WebSocketURL())
package config
