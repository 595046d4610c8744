// Package obs builds the process-wide zap logger.
package obs
