package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrMQTTBrokerNotFound = errors.New("mqtt broker config not found")

// MQTTBroker is the broker used for entity reflection. At most one per profile.
type MQTTBroker struct {
	ID              int64
	ProfileID       int64
	Host            string
	Port            int
	Username        string
	Password        string
	ClientID        string
	TLS             bool
	DiscoveryPrefix string
	BaseTopic       string
	Enabled         bool
	CreatedAt       time.Time
}

// MQTTBrokerStore provides MQTT broker config operations.
type MQTTBrokerStore interface {
	Get(ctx context.Context, profileID int64) (*MQTTBroker, error)
	Save(ctx context.Context, b *MQTTBroker) error
	Delete(ctx context.Context, profileID int64) error
}

// MQTTBrokers returns an MQTTBrokerStore for this database.
func (db *DB) MQTTBrokers() MQTTBrokerStore {
	return &mqttBrokerStore{db: db}
}

type mqttBrokerStore struct {
	db *DB
}

func (s *mqttBrokerStore) Get(ctx context.Context, profileID int64) (*MQTTBroker, error) {
	b := &MQTTBroker{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, host, port, username, password, client_id, use_tls,
		       discovery_prefix, base_topic, enabled, created_at
		FROM mqtt_brokers WHERE profile_id = ?
	`, profileID).Scan(&b.ID, &b.ProfileID, &b.Host, &b.Port, &b.Username, &b.Password, &b.ClientID,
		&b.TLS, &b.DiscoveryPrefix, &b.BaseTopic, &b.Enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrMQTTBrokerNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return b, nil
}

// Save inserts or replaces the broker config of b.ProfileID. Empty fields
// take the column defaults.
func (s *mqttBrokerStore) Save(ctx context.Context, b *MQTTBroker) error {
	if b.Host == "" {
		return fmt.Errorf("failed to save MQTT broker config: host is required")
	}
	if b.Port == 0 {
		b.Port = 1883
	}
	if b.ClientID == "" {
		b.ClientID = "ambisense-bridge"
	}
	if b.DiscoveryPrefix == "" {
		b.DiscoveryPrefix = "homeassistant"
	}
	if b.BaseTopic == "" {
		b.BaseTopic = "ambisense"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mqtt_brokers (profile_id, host, port, username, password, client_id, use_tls,
		                          discovery_prefix, base_topic, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			client_id = excluded.client_id,
			use_tls = excluded.use_tls,
			discovery_prefix = excluded.discovery_prefix,
			base_topic = excluded.base_topic,
			enabled = excluded.enabled
	`, b.ProfileID, b.Host, b.Port, b.Username, b.Password, b.ClientID, b.TLS,
		b.DiscoveryPrefix, b.BaseTopic, b.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save MQTT broker config: %w", err)
	}

	saved, err := s.Get(ctx, b.ProfileID)
	if err != nil {
		return err
	}
	*b = *saved
	return nil
}

func (s *mqttBrokerStore) Delete(ctx context.Context, profileID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mqtt_brokers WHERE profile_id = ?`, profileID)
	if err != nil {
		return err
	}
	return expectOne(result, ErrMQTTBrokerNotFound)
}
