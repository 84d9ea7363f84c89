// Package config loads and validates the bridge configuration.
//
// Values come from defaults, then a YAML file, then FORAKNX_* environment
// variables. Secrets (app token, MQTT password, InfluxDB token) are best
// supplied through the environment and the file kept at mode 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.App.ID)
package config
