package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

func TestStatic(t *testing.T) {
	token, err := Resolve(context.Background(), Static("  abc \n"))
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = Resolve(context.Background(), Static("   "))
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = Resolve(context.Background(), nil)
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	t.Setenv(DefaultEnvVar, "from-env\n")
	token, err := Env{}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)

	t.Setenv("AWXLAB_CUSTOM", "")
	_, err = Env{Name: "AWXLAB_CUSTOM"}.Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = Env{Name: "AWXLAB_DEFINITELY_UNSET"}.Token(context.Background())
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\nignored\n"), 0o600))

	token, err := File{Path: path}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", token)

	_, err = File{Path: filepath.Join(dir, "missing")}.Token(context.Background())
	assert.Error(t, err)
}

func TestKubernetesSecret(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: DefaultSecretName, Namespace: DefaultNamespace},
		Data:       map[string][]byte{"password": []byte("admin-pass\n")},
	})

	src := &KubernetesSecret{Clientset: clientset}
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin-pass", token)

	_, err = (&KubernetesSecret{Clientset: clientset, Key: "other"}).Token(context.Background())
	assert.ErrorContains(t, err, `no key "other"`)

	_, err = (&KubernetesSecret{Clientset: clientset, Namespace: "elsewhere"}).Token(context.Background())
	assert.Error(t, err)
}

func TestKubernetesSecret_Empty(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: DefaultSecretName, Namespace: DefaultNamespace},
		Data:       map[string][]byte{"password": []byte("  ")},
	})

	_, err := (&KubernetesSecret{Clientset: clientset}).Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func newVaultServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if r.URL.Path != "/v1/secret/data/awx" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const vaultMetadata = `"metadata":{"created_time":"2026-01-01T00:00:00Z","custom_metadata":null,"deletion_time":"","destroyed":false,"version":1}`

func TestVaultKV(t *testing.T) {
	srv := newVaultServer(t, `{"data":{"data":{"token":" vault-token ","count":3},`+vaultMetadata+`}}`)

	src, err := NewVaultKV(srv.URL, "root", "secret", "awx", "")
	require.NoError(t, err)

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-token", token)

	src.Field = "count"
	_, err = src.Token(context.Background())
	assert.ErrorContains(t, err, "not a string")

	src.Field = "absent"
	_, err = src.Token(context.Background())
	assert.ErrorContains(t, err, `no field "absent"`)

	src.Field = ""
	src.Path = "other"
	_, err = src.Token(context.Background())
	assert.Error(t, err)
}

func TestVaultKV_PermissionDenied(t *testing.T) {
	srv := newVaultServer(t, `{}`)

	src, err := NewVaultKV(srv.URL, "wrong", "secret", "awx", "token")
	require.NoError(t, err)

	_, err = src.Token(context.Background())
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	tests := []struct {
		value   string
		want    TokenSource
		wantErr bool
	}{
		{value: "", want: Env{}},
		{value: "env", want: Env{}},
		{value: "env:MY_TOKEN", want: Env{Name: "MY_TOKEN"}},
		{value: "file:/run/secrets/awx", want: File{Path: "/run/secrets/awx"}},
		{value: "literal:abc", want: Static("abc")},
		{value: "file:", wantErr: true},
		{value: "k8s:awx", wantErr: true},
		{value: "vault:secret", wantErr: true},
		{value: "gcp:thing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := Parse(tt.value, Options{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Vault(t *testing.T) {
	src, err := Parse("vault:kv/lab/awx#admin", Options{VaultAddress: "http://127.0.0.1:8200", VaultToken: "root"})
	require.NoError(t, err)

	kv, ok := src.(*VaultKV)
	require.True(t, ok)
	assert.Equal(t, "kv", kv.Mount)
	assert.Equal(t, "lab/awx", kv.Path)
	assert.Equal(t, "admin", kv.Field)
}

func TestParse_Kubernetes(t *testing.T) {
	dir := t.TempDir()
	kubeconfig := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(kubeconfig, []byte(`apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://127.0.0.1:6443
  name: lab
contexts:
- context:
    cluster: lab
    user: lab
  name: lab
current-context: lab
users:
- name: lab
  user:
    token: abc
`), 0o600))

	src, err := Parse("k8s:tower/admin#pw", Options{Kubeconfig: kubeconfig})
	require.NoError(t, err)

	secret, ok := src.(*KubernetesSecret)
	require.True(t, ok)
	assert.Equal(t, "tower", secret.Namespace)
	assert.Equal(t, "admin", secret.Name)
	assert.Equal(t, "pw", secret.Key)

	src, err = Parse("k8s", Options{Kubeconfig: kubeconfig})
	require.NoError(t, err)
	secret = src.(*KubernetesSecret)
	assert.Equal(t, DefaultNamespace, secret.Namespace)
	assert.Equal(t, DefaultSecretName, secret.Name)
	assert.Equal(t, DefaultSecretKey, secret.Key)
}
