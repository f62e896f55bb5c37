// Package logging builds the slog loggers used across bdencode: a compact
// console handler for operators, a JSON handler for machines, and an optional
// JSON log file fanned out alongside either.
package logging
