// Package cli provides the finkeeper command-line client.
//
// Every command works against the local store first and never needs the
// network; the sync and status --remote commands are the only ones that talk
// to the server directly. The daemon and shell commands additionally run the
// background sync engine, so changes made there are pushed as soon as the
// server is reachable.
//
// Commands
//
//	tx add|list|update|delete      transactions
//	category add|list|delete       categories
//	budget add|list|delete         budgets
//	goal add|list|save|delete      savings goals
//	settings show|set              the settings singleton
//	sync [--force]                 run one push/pull round
//	status [--remote] [--json]     local health, pending changes, cursor age
//	queue poisoned|purge           inspect and clean the change queue
//	daemon                         run the sync scheduler in the foreground
//	shell                          interactive prompt with background sync
package cli
