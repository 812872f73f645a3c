// Tollgate brokers metered access to upstream LLM APIs.
//
// It shares a limited set of upstream credentials and token quota across
// organizations, workspaces and users:
//   - budget enforcement against monthly and daily token limits
//   - pooled credential allocation per organization
//   - one active session per account
//   - an append-only usage ledger with rollups
//
// Usage:
//
//	# Start the broker
//	tollgate run --config /etc/tollgate/tollgate.yaml
//
//	# Check a configuration file
//	tollgate config validate --config tollgate.yaml
//
//	# Manage an organization's credential pool
//	tollgate pool add --org acme --name "team key" --secret -
//	tollgate pool list --org acme
//
//	# Inspect usage and sessions
//	tollgate usage show --scope organization --id acme
//	tollgate session show alice
package main

import "os"

func main() {
	os.Exit(Execute())
}
