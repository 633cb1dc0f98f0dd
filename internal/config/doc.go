// Package config defines configuration structures for the hfslurp CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (HFSLURP_ prefix), optionally from a .env file
//   - YAML configuration file
//
// Later sources override earlier ones in the order: defaults, YAML file,
// environment, flags.
//
// # Structure
//
//	type Config struct {
//	    Repo      string
//	    Revision  string
//	    RepoType  string
//	    SaveDir   string
//	    StateURL  string
//	    Endpoint  string
//	    Workers   int
//	    NoResume  bool
//	    Progress  string
//	    Timeout   time.Duration
//	    RateLimit int64
//	    Retry     RetryConfig
//	    Log       LogConfig
//	}
package config
