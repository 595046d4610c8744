// Package config loads gosessiond settings with viper from defaults, an
// optional YAML file and the environment.
package config
