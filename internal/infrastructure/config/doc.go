// Package config handles loading and validating Gray Logic Cloudlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields per enabled binding
//   - Default value handling
//
// Security Considerations:
//   - Cloud API keys should be set via CLOUDLINK_DATAHUB_API_KEY and
//     CLOUDLINK_PROTECT_API_KEY, never committed in config.yaml
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/cloudlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.DataHub.DailyLimit)
package config
