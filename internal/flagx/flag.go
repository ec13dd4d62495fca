// Package flagx lets several components pick their own flags out of one
// command line. The global vaultctl flags, the config file flag and the
// subcommand arguments share os.Args.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs returns the allowed flags of args together with their values.
// A value is either joined with '=' (-c=conf.json) or the following argument
// when that does not start with '-'.
func FilterArgs(args []string, allowedFlags []string) []string {
	matched, _ := SplitArgs(args, allowedFlags, nil)
	return matched
}

// SplitArgs partitions args into the flags named in valued or boolean (with
// their values) and everything else, keeping relative order. Boolean flags
// never consume the next argument, so "-keyring ls" leaves "ls" in rest.
func SplitArgs(args []string, valued, boolean []string) (matched, rest []string) {
	takesValue := make(map[string]bool, len(valued)+len(boolean))
	for _, f := range valued {
		takesValue[f] = true
	}
	for _, f := range boolean {
		takesValue[f] = false
	}

	matched = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := takesValue[name]; ok {
				matched = append(matched, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		valuedFlag, ok := takesValue[arg]
		if !ok {
			rest = append(rest, arg)
			continue
		}
		matched = append(matched, arg)
		if valuedFlag && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			matched = append(matched, args[i+1])
			i++
		}
	}
	return matched, rest
}

// JsonConfigFlags returns the config file path given with -c or -config,
// or "" when neither is present. When both are given the last one wins.
func JsonConfigFlags(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return config
}
