// Package logx is the structured logger used across slotwatch: a zerolog core
// behind typed field helpers, a Service whose sinks can be swapped while the
// process runs, and an optional sink that forwards warnings to an operator
// chat.
package logx
