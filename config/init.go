package config

import (
	"encoding/json"
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/models"
	"github.com/triagebox/mailsync/internal/tracing"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:            &AppConfig{},
		Logger:               &logger.Config{},
		Tracing:              &tracing.JaegerConfig{},
		DatabaseConfig:       &DatabaseConfig{},
		SearchStoreConfig:    &SearchStoreConfig{},
		SyncConfig:           &SyncConfig{},
		ClassifierConfig:     &ClassifierConfig{},
		SuggestConfig:        &SuggestConfig{},
		SlackConfig:          &SlackConfig{},
		ArchiveStorageConfig: &ArchiveStorageConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, errors.Wrap(err, "error loading mailsync config")
	}

	return config, nil
}

type accountDescriptor struct {
	EmailAddress string   `json:"emailAddress"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	UseTLS       bool     `json:"useTls"`
	Folders      []string `json:"folders"`
}

// ParseAccounts decodes the IMAP_ACCOUNTS JSON blob into account models.
func (c *SyncConfig) ParseAccounts() ([]*models.Account, error) {
	if c.Accounts == "" {
		return nil, nil
	}

	var descriptors []accountDescriptor
	if err := json.Unmarshal([]byte(c.Accounts), &descriptors); err != nil {
		return nil, errors.Wrap(err, "invalid IMAP_ACCOUNTS")
	}

	accounts := make([]*models.Account, 0, len(descriptors))
	for _, d := range descriptors {
		if d.EmailAddress == "" || d.Host == "" {
			return nil, errors.Errorf("account descriptor missing emailAddress or host: %+v", d.EmailAddress)
		}
		port := d.Port
		if port == 0 {
			port = 993
		}
		username := d.Username
		if username == "" {
			username = d.EmailAddress
		}
		accounts = append(accounts, &models.Account{
			EmailAddress: d.EmailAddress,
			ImapServer:   d.Host,
			ImapPort:     port,
			ImapUsername: username,
			ImapPassword: d.Password,
			ImapTLS:      d.UseTLS,
			Folders:      pq.StringArray(d.Folders),
		})
	}

	return accounts, nil
}
