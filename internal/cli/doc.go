// Package cli implements vaultctl, the command-line front end of the vault
// engine.
//
// Each invocation unlocks the configured vault (prompting for the master
// password, or reading it from the OS keyring when enabled), runs one
// command and exits. The "shell" command keeps the vault open and reads
// commands interactively, with the remote monitor pulling in changes made
// by other clients in the background.
package cli
