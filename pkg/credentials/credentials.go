// Package credentials resolves the bearer token presented to the controller.
//
// A token is resolved once per command through a TokenSource. Sources read
// from a literal value, an environment variable, a file, a Kubernetes secret
// or a Vault KV v2 secret. Every source trims surrounding whitespace and
// refuses an empty token.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// DefaultEnvVar is read by Env when no variable is named.
	DefaultEnvVar = "AWX_TOKEN"

	DefaultNamespace  = "awx"
	DefaultSecretName = "awx-admin-password"
	DefaultSecretKey  = "password"

	DefaultVaultMount = "secret"
	DefaultVaultField = "token"
)

// ErrEmptyToken is returned when a source yields a blank token.
var ErrEmptyToken = errors.New("token is empty")

// TokenSource yields the bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Resolve reads src once and returns the trimmed token.
func Resolve(ctx context.Context, src TokenSource) (string, error) {
	if src == nil {
		return "", errors.New("no token source configured")
	}
	token, err := src.Token(ctx)
	if err != nil {
		return "", err
	}
	return clean(token)
}

func clean(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Static is a literal token.
type Static string

// Token implements TokenSource.
func (s Static) Token(context.Context) (string, error) {
	return clean(string(s))
}

// Env reads the token from an environment variable.
type Env struct {
	Name string
}

// Token implements TokenSource.
func (e Env) Token(context.Context) (string, error) {
	name := e.Name
	if name == "" {
		name = DefaultEnvVar
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	token, err := clean(value)
	if err != nil {
		return "", fmt.Errorf("environment variable %s: %w", name, err)
	}
	return token, nil
}

// File reads the token from the first line of a file.
type File struct {
	Path string
}

// Token implements TokenSource.
func (f File) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	token, err := clean(line)
	if err != nil {
		return "", fmt.Errorf("token file %s: %w", f.Path, err)
	}
	return token, nil
}

// KubernetesSecret reads the admin password the AWX operator stores in a
// cluster secret.
type KubernetesSecret struct {
	Clientset kubernetes.Interface
	Namespace string
	Name      string
	Key       string
}

// NewKubernetesSecret builds a source from a kubeconfig path. An empty path
// falls back to the in-cluster configuration.
func NewKubernetesSecret(kubeconfig, namespace, name, key string) (*KubernetesSecret, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}
	cfg.Timeout = 10 * time.Second

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &KubernetesSecret{
		Clientset: clientset,
		Namespace: namespace,
		Name:      name,
		Key:       key,
	}, nil
}

// Token implements TokenSource.
func (k *KubernetesSecret) Token(ctx context.Context) (string, error) {
	namespace := orDefault(k.Namespace, DefaultNamespace)
	name := orDefault(k.Name, DefaultSecretName)
	key := orDefault(k.Key, DefaultSecretKey)

	secret, err := k.Clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s/%s: %w", namespace, name, err)
	}

	// Data is already base64-decoded by the API machinery.
	value, ok := secret.Data[key]
	if !ok {
		if s, found := secret.StringData[key]; found {
			value, ok = []byte(s), true
		}
	}
	if !ok {
		return "", fmt.Errorf("secret %s/%s has no key %q", namespace, name, key)
	}

	token, err := clean(string(value))
	if err != nil {
		return "", fmt.Errorf("secret %s/%s key %q: %w", namespace, name, key, err)
	}
	return token, nil
}

// VaultKV reads the token from a KV v2 secret.
type VaultKV struct {
	Client *vault.Client
	Mount  string
	Path   string
	Field  string
}

// NewVaultKV creates a Vault-backed source. An empty address or token falls
// back to VAULT_ADDR and VAULT_TOKEN.
func NewVaultKV(address, token, mount, path, field string) (*VaultKV, error) {
	cfg := vault.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if env := os.Getenv("VAULT_TOKEN"); env != "" {
		client.SetToken(env)
	}

	return &VaultKV{Client: client, Mount: mount, Path: path, Field: field}, nil
}

// Token implements TokenSource.
func (v *VaultKV) Token(ctx context.Context) (string, error) {
	mount := orDefault(v.Mount, DefaultVaultMount)
	field := orDefault(v.Field, DefaultVaultField)
	if v.Path == "" {
		return "", errors.New("vault secret path is empty")
	}

	secret, err := v.Client.KVv2(mount).Get(ctx, v.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read vault secret %s/%s: %w", mount, v.Path, err)
	}

	raw, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s has no field %q", mount, v.Path, field)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s field %q is not a string", mount, v.Path, field)
	}

	token, err := clean(value)
	if err != nil {
		return "", fmt.Errorf("vault secret %s/%s field %q: %w", mount, v.Path, field, err)
	}
	return token, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
