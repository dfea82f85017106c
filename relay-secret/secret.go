// Package relaysecret provides AWS Secrets Manager integration for loading
// configuration secrets into Go structs.
package relaysecret

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/savaki/secrets"
)

// RelaySecrets is the JSON document stored under the relay's secret name.
type RelaySecrets struct {
	WSSecret    string `json:"ws_secret"`
	DatabaseURL string `json:"database_url,omitempty"`
}

func LoadSecret(s *session.Session, secretName string, data interface{}) error {
	api := secrets.WithSecretsManager(secretsmanager.New(s))
	manager, err := secrets.NewManager(api)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}

	if err := manager.Decode(secretName, data); err != nil {
		return fmt.Errorf("failed to load secret %v: %w", secretName, err)
	}
	return nil
}

// LoadRelaySecrets loads and validates the relay's secret document.
func LoadRelaySecrets(s *session.Session, secretName string) (RelaySecrets, error) {
	var rs RelaySecrets
	if err := LoadSecret(s, secretName, &rs); err != nil {
		return RelaySecrets{}, err
	}
	if rs.WSSecret == "" {
		return RelaySecrets{}, fmt.Errorf("secret %v has no ws_secret", secretName)
	}
	return rs, nil
}
