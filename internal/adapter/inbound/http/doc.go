// Package http is the inbound HTTP adapter for the governance gateway.
//
// It exposes the evaluation endpoint agents call before performing an
// action, the policy and approval management API, audit log queries, and
// the operational surface (health probes, Prometheus metrics, gateway
// mode control). Handlers translate between JSON request/response shapes
// and the domain types, delegating all decisions to the service layer.
//
// # Endpoints
//
//	POST   /api/v1/gateway/evaluate         - Evaluate an agent action against policy
//	GET    /api/v1/gateway/mode             - Current gateway mode
//	PUT    /api/v1/gateway/mode             - Switch SHADOW/ENFORCE
//	GET    /api/v1/policies                 - List active policy rules
//	POST   /api/v1/policies                 - Create or replace a policy rule
//	GET    /api/v1/policies/{rule_id}       - Fetch a single rule
//	DELETE /api/v1/policies/{rule_id}       - Delete a rule
//	POST   /api/v1/policies/refresh         - Atomically replace the active rule set
//	GET    /api/v1/approvals/{approval_id}  - Inspect a pending approval
//	POST   /api/v1/approvals/{approval_id}/decision - Approve or reject
//	GET    /api/v1/audit/logs               - Query audit records
//	GET    /api/v1/audit/stats              - Aggregate audit statistics
//	GET    /api/v1/metrics/summary          - Operational counters and latency percentiles
//	GET    /api/v1/agents/{agent_id}/rate-limit - Agent's current window
//	GET    /health, /health/ready, /health/live, /metrics, /
//
// # Authentication
//
// Every route outside the public set (/, /health*, /metrics) requires an
// API key with the agent_sk_ prefix, sent as "Authorization: Bearer <key>".
// In dev mode the key only has to be well-formed; in secure mode it must
// verify against the configured credential store.
package http
