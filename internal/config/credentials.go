package config

import (
	"context"
	"encoding/base64"

	"gocloud.dev/secrets"

	apperrors "github.com/allisson/syncbridge/internal/errors"

	// Register all KMS provider drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// DecryptCredentials decrypts the API tokens and webhook shared secrets in
// place when CredentialsKMSKeyURI is configured. Credentials are then supplied
// as base64-encoded KMS ciphertext; with no key URI they are used as-is.
//
// Supports: gcpkms://, awskms://, azurekeyvault://, hashivault://, base64key://
func (c *Config) DecryptCredentials(ctx context.Context) error {
	if c.CredentialsKMSKeyURI == "" {
		return nil
	}

	keeper, err := secrets.OpenKeeper(ctx, c.CredentialsKMSKeyURI)
	if err != nil {
		return apperrors.Wrap(err, "failed to open KMS keeper")
	}
	defer func() {
		_ = keeper.Close()
	}()

	fields := []*string{
		&c.FieldPro.APIToken,
		&c.FieldPro.WebhookSecret,
		&c.TaskHub.APIToken,
		&c.TaskHub.WebhookSecret,
	}
	for _, field := range fields {
		if *field == "" {
			continue
		}
		plaintext, err := decryptField(ctx, keeper, *field)
		if err != nil {
			return err
		}
		*field = plaintext
	}

	return nil
}

// decryptField base64-decodes one credential value and decrypts it through the keeper.
func decryptField(ctx context.Context, keeper *secrets.Keeper, value string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", apperrors.Wrap(err, "credential is not valid base64 ciphertext")
	}

	plaintext, err := keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to decrypt credential")
	}

	return string(plaintext), nil
}
