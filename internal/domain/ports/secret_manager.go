package ports

import "context"

// Secret is a credential resolved from a secret backend
type Secret struct {
	Value     string
	Version   string
	Metadata  map[string]string
	CreatedAt string
}

// SecretManager resolves gateway credentials (API keys, webhook HMAC secrets)
// from a secret backend.
type SecretManager interface {
	GetSecret(ctx context.Context, secretPath string) (*Secret, error)
	PutSecret(ctx context.Context, secretPath, secretValue string, tags map[string]string) (string, error)
}
