// Package types holds the service/tool metadata and result types
// shared between the provider registry, the providers, and the HTTP
// surface.
package types
