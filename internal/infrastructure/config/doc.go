// Package config handles loading and validating the Arlo cloud link configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The arlo and imap sections only seed the settings store on first start.
// After that, account and MFA settings are changed through the settings API
// and the stored values win.
//
// Security Considerations:
//   - Arlo and IMAP passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - security.token_key seals persisted Arlo auth headers at rest
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Arlo.Transport)
package config
