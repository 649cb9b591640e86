// Package config defines configuration structures for the modelbuilder CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (MB_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Structure
//
//	type Config struct {
//	    Workspace   string        // bucket URL or local directory
//	    Catalog     CatalogConfig // survey catalog endpoints and cache TTL
//	    Resolution  float64
//	    Format      string        // EHdr, AAIGrid
//	    HTTP        HTTPConfig
//	    Log         LogConfig
//	    MetricsAddr string
//	    NATSURL     string
//	    ValkeyAddr  string
//	}
package config
