// Package service provides the provider registry for agent tool dispatch.
//
// The registry maintains a catalog of providers and handles discovery,
// tool execution, and relevance scoring for agent intents.
//
// Components:
//   - Registry: Central provider catalog
//   - Provider: Interface for service implementations
//   - Intent-based discovery with relevance scoring
//
// Tool IDs are namespaced as "<service>.<tool>"; Execute resolves the
// service prefix and dispatches to the matching provider.
//
// Example Usage:
//
//	registry := service.NewRegistry()
//	registry.Register(shellProvider)
//	services := registry.Discover("run a shell command", 5)
//	result, err := registry.Execute(ctx, "shell.execute", params, reqCtx)
package service
