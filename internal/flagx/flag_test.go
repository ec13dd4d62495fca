package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	configFlags := []string{"-c", "-config"}

	cases := map[string]struct {
		in   []string
		keep []string
		out  []string
	}{
		"config before subcommand": {
			in:   []string{"-c", "vault.json", "ls", "/Work"},
			keep: configFlags,
			out:  []string{"-c", "vault.json"},
		},
		"config joined with equals": {
			in:   []string{"show", "-config=/etc/vaultctl.json", "mail"},
			keep: configFlags,
			out:  []string{"-config=/etc/vaultctl.json"},
		},
		"subcommand flags are left out": {
			in:   []string{"add", "-group", "Work", "-totp"},
			keep: configFlags,
			out:  []string{},
		},
		"trailing flag has no value": {
			in:   []string{"sync", "-env"},
			keep: []string{"-env"},
			out:  []string{"-env"},
		},
		"value never starts with a dash": {
			in:   []string{"-c", "-p", "mail"},
			keep: configFlags,
			out:  []string{"-c"},
		},
		"repeats keep their order": {
			in:   []string{"-env", "prod.env", "audit", "-env", "local.env"},
			keep: []string{"-env"},
			out:  []string{"-env", "prod.env", "-env", "local.env"},
		},
		"nothing given": {
			in:   nil,
			keep: configFlags,
			out:  []string{},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.out, FilterArgs(tc.in, tc.keep))
		})
	}
}

func TestSplitArgs(t *testing.T) {
	args := []string{"-vault", "team", "-keyring", "search", "-field=url", "mail", "-backend=s3"}
	matched, rest := SplitArgs(args, []string{"-vault", "-backend"}, []string{"-keyring"})

	assert.Equal(t, []string{"-vault", "team", "-keyring", "-backend=s3"}, matched)
	assert.Equal(t, []string{"search", "-field=url", "mail"}, rest)
}

func TestSplitArgs_BooleanDoesNotSwallowCommand(t *testing.T) {
	matched, rest := SplitArgs([]string{"-keyring", "ls"}, nil, []string{"-keyring"})

	assert.Equal(t, []string{"-keyring"}, matched)
	assert.Equal(t, []string{"ls"}, rest)
}

func TestJsonConfigFlags(t *testing.T) {
	for want, args := range map[string][]string{
		"vault.json":         {"-c", "vault.json", "ls"},
		"/etc/vaultctl.json": {"audit", "-config", "/etc/vaultctl.json"},
		"second.json":        {"-c", "first.json", "-config=second.json"},
		"":                   {"-vault", "team", "sync"},
	} {
		assert.Equal(t, want, JsonConfigFlags(args), "%v", args)
	}
}
