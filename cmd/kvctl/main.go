// Package main is kvctl, a command line client for torua-kv clusters.
//
//	kvctl --coordinator http://localhost:8080 put user-1 name=alice age=33
//	kvctl get user-1
//	kvctl get user-1 age
//	kvctl batch-get user-1 user-2 user-3 --bins age
//	kvctl remove user-1 -p OPT_POLICY_GEN=POLICY_GEN_EQ,2
//
// Bin values given as name=value are read as JSON when they parse and as
// strings otherwise. Policy options are passed with -p NAME=VALUE and use the
// same names as the client configuration.
package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dreamware/torua-kv/internal/client"
	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
)

// app holds the flags shared by every command
type app struct {
	configFile  string
	coordinator string
	namespace   string
	set         string
	intKey      bool
	policy      []string

	connect func(ctx context.Context, cfg config.Client, opts ...client.Option) (*client.Client, error)
}

func newCommand() *cobra.Command {
	a := &app{connect: client.Connect}
	root := &cobra.Command{
		Use:           "kvctl",
		Short:         "Read and write records of a torua-kv cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "c", "", "client configuration file")
	f.StringVar(&a.coordinator, "coordinator", "", "coordinator address, overrides the configuration")
	f.StringVarP(&a.namespace, "namespace", "n", "test", "record namespace")
	f.StringVarP(&a.set, "set", "s", "", "record set")
	f.BoolVar(&a.intKey, "int-key", false, "read user keys as integers")
	f.StringArrayVarP(&a.policy, "policy", "p", nil, "policy option NAME=VALUE, repeatable")

	root.AddCommand(
		a.getCommand(),
		a.existsCommand(),
		a.putCommand(),
		a.removeCommand(),
		a.batchGetCommand(),
		a.digestCommand(),
	)
	return root
}

func main() {
	cmd := newCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("error:", err)
		if code := status.CodeOf(err); code != status.ErrClient {
			cmd.PrintErrln("code:", code)
		}
		os.Exit(1)
	}
}

// client connects to the cluster described by the flags
func (a *app) client(ctx context.Context) (*client.Client, error) {
	cfg, err := config.LoadClient(a.configFile)
	if err != nil {
		return nil, err
	}
	if a.coordinator != "" {
		cfg.Coordinator = a.coordinator
	}
	// one-shot commands do not need background refreshes
	cfg.RefreshInterval = 0
	return a.connect(ctx, *cfg, client.WithLogger(logging.L()))
}

// options returns the -p flags as a per-call policy layer
func (a *app) options() (policy.Options, error) {
	raw := make(map[string]any, len(a.policy))
	for _, kv := range a.policy {
		name, v, ok := strings.Cut(kv, "=")
		if !ok {
			return policy.Options{}, status.New(status.ErrParam, "policy option %q is not NAME=VALUE", kv)
		}
		raw[name] = optionValue(v)
	}
	return policy.ParseOptions(raw)
}

// optionValue reads integers and booleans as such; a comma separated value
// becomes a list, as OPT_POLICY_GEN=POLICY_GEN_EQ,3 needs
func optionValue(raw string) any {
	if parts := strings.Split(raw, ","); len(parts) > 1 {
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = optionValue(p)
		}
		return out
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func (a *app) key(pk string) (*key.Key, error) {
	if !a.intKey {
		return key.New(a.namespace, a.set, pk)
	}
	n, err := strconv.ParseInt(pk, 10, 64)
	if err != nil {
		return nil, status.Wrap(status.ErrParam, err, "user key %q", pk)
	}
	return key.New(a.namespace, a.set, n)
}
