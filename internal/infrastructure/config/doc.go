// Package config handles loading and validating Gray Logic bus configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Checking the bus section against a JSON schema
//   - Overriding with environment variables
//   - Validation of required fields and TLS material
//   - Default value handling
//
// Security Considerations:
//   - Secured DSN schemes (mqtts, ssl, tls, wss, nats+tls) require cafile,
//     certfile and keyfile together; a missing file is a configuration error
//   - Tokens (InfluxDB) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bus.DSN)
package config
