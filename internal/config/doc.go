// Package config loads the agent configuration.
//
// Sources, later ones winning:
//
//	defaults -> TOML file (--config or ./agent.toml) -> .env -> environment
//
// Variables already present in the environment are never overwritten by .env.
package config
