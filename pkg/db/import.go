package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LinksFile is the YAML document accepted by Import, e.g.
//
//	links:
//	  - name: AmbiSense Kitchen
//	    host: 192.168.1.40
//	mqtt:
//	  host: broker.local
type LinksFile struct {
	Links []LinkEntry  `yaml:"links"`
	MQTT  *BrokerEntry `yaml:"mqtt,omitempty"`
}

// LinkEntry is one device in a links file.
type LinkEntry struct {
	Name  string `yaml:"name"`
	Host  string `yaml:"host"`
	Model string `yaml:"model,omitempty"`
}

// BrokerEntry is the optional broker section of a links file.
type BrokerEntry struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	ClientID        string `yaml:"client_id,omitempty"`
	TLS             bool   `yaml:"tls,omitempty"`
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"`
	BaseTopic       string `yaml:"base_topic,omitempty"`
	Disabled        bool   `yaml:"disabled,omitempty"`
}

// ImportResult counts what an import changed.
type ImportResult struct {
	Added   int
	Skipped int
	Broker  bool
}

// ImportFile imports a YAML links file into the profile.
func (db *DB) ImportFile(ctx context.Context, profileID int64, path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to open links file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return db.Import(ctx, profileID, f)
}

// Import adds every link of the YAML document that is not configured yet.
// Hosts that already have a link are skipped, so importing is idempotent.
func (db *DB) Import(ctx context.Context, profileID int64, r io.Reader) (ImportResult, error) {
	var file LinksFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return ImportResult{}, fmt.Errorf("failed to parse links file: %w", err)
	}

	var res ImportResult
	links := db.Links()
	for i, entry := range file.Links {
		if entry.Host == "" {
			return res, fmt.Errorf("links[%d]: host is required", i)
		}
		l := &DeviceLink{ProfileID: profileID, Name: entry.Name, Host: entry.Host, Model: entry.Model}
		err := links.Create(ctx, l)
		if errors.Is(err, ErrLinkExists) {
			log.Debug().Str("host", entry.Host).Msg("Device link already configured, skipping")
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("links[%d]: %w", i, err)
		}
		log.Info().Str("link_id", l.ID).Str("name", l.Name).Str("host", l.Host).Msg("Imported device link")
		res.Added++
	}

	if file.MQTT != nil {
		b := file.MQTT
		err := db.MQTTBrokers().Save(ctx, &MQTTBroker{
			ProfileID:       profileID,
			Host:            b.Host,
			Port:            b.Port,
			Username:        b.Username,
			Password:        b.Password,
			ClientID:        b.ClientID,
			TLS:             b.TLS,
			DiscoveryPrefix: b.DiscoveryPrefix,
			BaseTopic:       b.BaseTopic,
			Enabled:         !b.Disabled,
		})
		if err != nil {
			return res, fmt.Errorf("mqtt: %w", err)
		}
		res.Broker = true
	}

	return res, nil
}
