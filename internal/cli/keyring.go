package cli

import "github.com/zalando/go-keyring"

const keyringService = "vaultcore"

// Test seams for the OS keyring.
var (
	keyringGet    = keyring.Get
	keyringSet    = keyring.Set
	keyringDelete = keyring.Delete
)
