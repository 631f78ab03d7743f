package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/adapters/secrets"
	"github.com/sokomarket/payment-service/internal/config"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// initSecretManager selects the secret backend from configuration.
// Supports:
//   - AWS Secrets Manager (production): SECRETS_BACKEND=aws and AWS_REGION
//   - HashiCorp Vault: SECRETS_BACKEND=vault and VAULT_ADDR (+ token/approle env)
//   - Local files (development): SECRETS_BACKEND=local, default
//
// When no backend is configured gateway credentials are taken verbatim from
// the environment and no secret resolution happens.
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManager {
	switch cfg.Secrets.Backend {
	case "aws":
		return initAWSSecretManager(ctx, cfg, logger)
	case "vault":
		return initVaultSecretManager(ctx, cfg, logger)
	case "local":
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalDir, logger)
	case "":
		return nil
	default:
		logger.Fatal("Unknown SECRETS_BACKEND",
			zap.String("backend", cfg.Secrets.Backend),
		)
		return nil
	}
}

func initAWSSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManager {
	awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion)
	awsCfg.Profile = os.Getenv("AWS_PROFILE")
	awsCfg.Endpoint = os.Getenv("AWS_SECRETS_ENDPOINT")

	sm, err := secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AWS Secrets Manager",
			zap.Error(err),
			zap.String("region", cfg.Secrets.AWSRegion),
		)
	}
	return sm
}

func initVaultSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManager {
	vaultCfg := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddr)
	vaultCfg.Token = os.Getenv("VAULT_TOKEN")
	if roleID := os.Getenv("VAULT_ROLE_ID"); roleID != "" {
		vaultCfg.AuthMethod = "approle"
		vaultCfg.RoleID = roleID
		vaultCfg.SecretID = os.Getenv("VAULT_SECRET_ID")
	}

	sm, err := secrets.NewVaultAdapter(ctx, vaultCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Vault adapter",
			zap.Error(err),
			zap.String("address", cfg.Secrets.VaultAddr),
		)
	}
	return sm
}

// resolveSecret reads one credential through the secret manager when a
// backend is configured, otherwise returns the configured value as-is.
func resolveSecret(ctx context.Context, sm ports.SecretManager, value string, logger *zap.Logger) string {
	if sm == nil || value == "" {
		return value
	}
	secret, err := sm.GetSecret(ctx, value)
	if err != nil {
		logger.Fatal("Failed to resolve secret",
			zap.String("path", value),
			zap.Error(err),
		)
	}
	return secret.Value
}
