// Package integration contains the Integration bounded context.
// This context manages a tenant's connections to external Church Management
// System (ChMS) providers and the synchronization of their data.
//
// Key concepts:
//   - Integration: Aggregate root, one per (organization, provider) pair, with its sync state machine
//   - ProviderAdapter: Port interface implemented once per external ChMS
//   - ProviderDefinition: Static catalog entry describing a provider's capabilities and auth type
//   - Person, Group, Event, Contribution: Canonical entities every provider payload is mapped into
//   - ProviderError: Classified failure (authentication, rate limit, validation, not found, sync, configuration)
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
