package credentials

import (
	"fmt"
	"strings"
)

// Options carries the out-of-band settings some sources need.
type Options struct {
	Kubeconfig   string
	VaultAddress string
	VaultToken   string
}

// Parse turns a --token-source value into a TokenSource.
//
// Accepted forms:
//
//	env[:NAME]                      environment variable, AWX_TOKEN by default
//	file:PATH                       first line of a file
//	literal:TOKEN                   the token itself
//	k8s[:NAMESPACE/SECRET[#KEY]]    cluster secret, awx/awx-admin-password#password by default
//	vault:MOUNT/PATH[#FIELD]        Vault KV v2 secret, field "token" by default
func Parse(value string, opts Options) (TokenSource, error) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(value), ":")

	switch scheme {
	case "", "env":
		return Env{Name: rest}, nil

	case "file":
		if rest == "" {
			return nil, fmt.Errorf("token source %q: file path is empty", value)
		}
		return File{Path: rest}, nil

	case "literal":
		return Static(rest), nil

	case "k8s", "kubernetes":
		namespace, name, key := DefaultNamespace, DefaultSecretName, DefaultSecretKey
		if rest != "" {
			ref, k, hasKey := strings.Cut(rest, "#")
			if hasKey {
				key = k
			}
			ns, n, ok := strings.Cut(ref, "/")
			if !ok || ns == "" || n == "" {
				return nil, fmt.Errorf("token source %q: expected NAMESPACE/SECRET", value)
			}
			namespace, name = ns, n
		}
		return NewKubernetesSecret(opts.Kubeconfig, namespace, name, key)

	case "vault":
		ref, field, _ := strings.Cut(rest, "#")
		mount, path, ok := strings.Cut(ref, "/")
		if !ok || mount == "" || path == "" {
			return nil, fmt.Errorf("token source %q: expected MOUNT/PATH", value)
		}
		return NewVaultKV(opts.VaultAddress, opts.VaultToken, mount, path, field)

	default:
		return nil, fmt.Errorf("unknown token source %q", scheme)
	}
}
