// Package app groups the recruitment service's composition layers.
//
// # Package Structure
//
//	internal/app/
//	├── domain/             # Domain models (pure data structures)
//	│   ├── application/    # Membership applications and their status machine
//	│   ├── vouch/          # Reviewer endorsements
//	│   ├── cooldown/       # Re-application cooldown windows
//	│   ├── audit/          # Append-only audit trail entries
//	│   └── outbox/         # Outbox events for async side effects
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (ApplicationStore, VouchStore, etc.)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── applications/   # Intake, listing, channel attachment, erasure support
//	│   ├── vouches/        # Vouch recording and tallying
//	│   ├── cooldowns/      # Denial cooldowns and admin overrides
//	│   ├── decisions/      # Status transitions with optimistic concurrency
//	│   ├── orchestrator/   # Outbox dispatch to the chat gateway
//	│   ├── audittrail/     # Audit append, export, redaction
//	│   └── erasure/        # Applicant data erasure cascade
//	├── httpapi/            # HTTP API handlers and routing
//	├── metrics/            # Prometheus collectors
//	└── runtime/            # Application wiring and lifecycle
//
// Domain packages hold data and invariants only; services own the business
// rules; runtime composes services with their stores and the transports.
package app
