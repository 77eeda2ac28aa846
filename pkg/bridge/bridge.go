// Package bridge assembles the configuration store, device links, discovery
// and MQTT reflection shared by the API and MCP servers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/ambisense"
	"github.com/urmzd/ambisense/pkg/db"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/mqtt"
)

// Options configure Open.
type Options struct {
	// DBPath is the SQLite config database. Empty uses the default location.
	DBPath string

	// Profile selects the active profile by name, creating it if needed.
	// Empty keeps the current active profile.
	Profile string

	// LinksFile is an optional YAML file of links imported on startup.
	LinksFile string

	// APIAddr, when set, is stored as the profile's API listen address.
	APIAddr string

	// ScanInterval is how often every link is polled.
	ScanInterval time.Duration

	// RateLimit caps link polls started per second.
	RateLimit float64

	// Interface restricts mDNS discovery to one network interface.
	Interface string

	// MQTT enables entity reflection when the profile has a broker.
	MQTT bool

	// ClientFactory overrides the device transport. Defaults to the
	// AmbiSense HTTP client.
	ClientFactory link.ClientFactory
}

// Bridge is a running set of device links and the services over them.
type Bridge struct {
	DB        *db.DB
	Config    *db.Config
	Links     *link.Manager
	Services  *entity.Services
	Scanner   *discovery.Scanner
	Validator *schema.Validator
	Broker    mqtt.Broker

	poller    *link.Poller
	reflector *mqtt.Reflector
}

// Open prepares the database, loads the active profile and starts a
// synchronizer for each configured link. Polling starts with Run.
func Open(ctx context.Context, opts Options) (*Bridge, error) {
	database, err := db.Open(opts.DBPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", database.Path()).Msg("Database opened")

	b := &Bridge{DB: database, Broker: mqtt.NewNullBroker()}
	if err := b.load(ctx, opts); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) load(ctx context.Context, opts Options) error {
	if err := b.DB.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	needsBootstrap, err := b.DB.NeedsBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to check bootstrap status: %w", err)
	}
	if needsBootstrap {
		log.Info().Msg("First run detected, bootstrapping database...")
		if err := b.DB.Bootstrap(ctx); err != nil {
			return fmt.Errorf("failed to bootstrap database: %w", err)
		}
	}

	if opts.Profile != "" {
		if err := b.selectProfile(ctx, opts.Profile); err != nil {
			return err
		}
	}
	profile, err := b.DB.Profiles().GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active profile: %w", err)
	}

	if opts.LinksFile != "" {
		if _, err := b.DB.ImportFile(ctx, profile.ID, opts.LinksFile); err != nil {
			return err
		}
	}
	if opts.APIAddr != "" {
		if err := b.saveAPIAddr(ctx, profile.ID, opts.APIAddr); err != nil {
			return err
		}
	}

	b.Config, err = b.DB.ActiveConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Info().
		Str("profile", b.Config.Profile.Name).
		Str("timezone", b.Config.Timezone()).
		Int("links", len(b.Config.Links)).
		Msg("Configuration loaded")

	factory := opts.ClientFactory
	if factory == nil {
		factory = func(l device.Link) link.Client {
			return ambisense.NewClient(l.Host)
		}
	}
	b.Links = link.NewManager(factory)
	for _, dl := range b.Config.Links {
		if _, err := b.Links.Add(dl.Link()); err != nil {
			log.Warn().Err(err).Str("link_id", dl.ID).Msg("Skipping device link")
		}
	}

	b.Services = entity.NewServices(b.Links)
	b.Scanner = discovery.NewScanner(discovery.WithInterface(opts.Interface))
	b.Validator = schema.NewValidator()
	b.poller = link.NewPoller(b.Links, opts.ScanInterval, opts.RateLimit)

	if opts.MQTT {
		b.connectBroker()
	}
	return nil
}

// selectProfile activates the profile called name. A new profile inherits the
// timezone of the one it replaces.
func (b *Bridge) selectProfile(ctx context.Context, name string) error {
	profiles := b.DB.Profiles()
	p, err := profiles.GetByName(ctx, name)
	if errors.Is(err, db.ErrProfileNotFound) {
		current, err := profiles.GetActive(ctx)
		if err != nil {
			return fmt.Errorf("failed to get active profile: %w", err)
		}
		known, err := profiles.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		names := make([]string, 0, len(known))
		for _, k := range known {
			names = append(names, k.Name)
		}

		p = &db.Profile{Name: name, Timezone: current.Timezone}
		if err := profiles.Create(ctx, p); err != nil {
			return err
		}
		log.Info().Str("profile", name).Strs("existing", names).Msg("Created profile")
	} else if err != nil {
		return fmt.Errorf("failed to get profile %s: %w", name, err)
	}

	if p.IsActive {
		return nil
	}
	if err := profiles.SetActive(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to activate profile %s: %w", name, err)
	}
	log.Info().Str("profile", name).Msg("Switched active profile")
	return nil
}

func (b *Bridge) saveAPIAddr(ctx context.Context, profileID int64, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid API port %q: %w", portStr, err)
	}
	return b.DB.APIServers().Save(ctx, &db.APIServer{ProfileID: profileID, Host: host, Port: port})
}

// connectBroker keeps the NullBroker when MQTT is not configured or the
// broker cannot be reached.
func (b *Bridge) connectBroker() {
	if !b.Config.MQTTEnabled() {
		log.Info().Msg("No MQTT broker configured, entity reflection disabled")
		return
	}

	cfg := MQTTConfig(b.Config.MQTT)
	client, err := mqtt.Connect(cfg)
	if err != nil {
		log.Warn().Err(err).Str("host", cfg.Host).Msg("MQTT broker unavailable, entity reflection disabled")
		return
	}

	b.Broker = client
	b.reflector = mqtt.NewReflector(client, b.Links, b.Services, client.Config())
	client.SetOnConnect(b.reflector.AnnounceAll)
}

// MQTTConfig converts a stored broker into a client config.
func MQTTConfig(m *db.MQTTBroker) mqtt.Config {
	return mqtt.Config{
		Host:            m.Host,
		Port:            m.Port,
		Username:        m.Username,
		Password:        m.Password,
		ClientID:        m.ClientID,
		TLS:             m.TLS,
		QoS:             1,
		DiscoveryPrefix: m.DiscoveryPrefix,
		BaseTopic:       m.BaseTopic,
	}.WithDefaults()
}

// Store returns the link registry of the active profile.
func (b *Bridge) Store() *db.ProfileLinks {
	return b.DB.ProfileLinks(b.Config.Profile.ID)
}

// Run polls the links, and reflects them over MQTT when connected, until
// ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if b.reflector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.reflector.Run(ctx); err != nil {
				log.Error().Err(err).Msg("MQTT reflection stopped")
			}
		}()
	}

	err := b.poller.Run(ctx)
	wg.Wait()
	return err
}

// Close stops every link and closes the broker and database.
func (b *Bridge) Close() error {
	if b.Links != nil {
		b.Links.Close()
	}
	var errs []error
	if b.Broker != nil {
		errs = append(errs, b.Broker.Close())
	}
	errs = append(errs, b.DB.Close())
	return errors.Join(errs...)
}
