/*
Package log provides structured logging for bosun using zerolog.

Init configures the global logger (level, JSON or console output); the
With* helpers derive child loggers carrying the standard context fields
(component, pod_group, instance_id, plan) so every operator-visible
failure names the pod group, instance, and phase it belongs to.
*/
package log
