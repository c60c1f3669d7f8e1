// Package config loads the store configuration from a YAML file, an optional
// .env file and VECSTORE_* environment variables, in that order of precedence
// from lowest to highest.
package config
