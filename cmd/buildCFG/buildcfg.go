// Package buildCFG turns the flat config file into the typed configs the
// components take.
package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"ticketgate/internal/gateway/paypal"
	"ticketgate/internal/gateway/stripe"
	"ticketgate/internal/mailer"
)

type ServerConfig struct {
	Port    string
	BaseURL string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) *ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	baseURL := cfg.GetString("app.base_url")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}
	return &ServerConfig{Port: port, BaseURL: baseURL}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: time.Duration(cfg.GetInt("database.conn_max_lifetime_seconds")) * time.Second,
	}
	log.Info().Msgf("DB config built (slaves: %d)", len(slaveDSNs))
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (*RabbitConfig, error) {
	rc := &RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" || rc.Exchange == "" || rc.Queue == "" {
		return nil, fmt.Errorf("rabbit.url, rabbit.exchange and rabbit.queue are required")
	}
	log.Info().Msgf("Rabbit config built (exchange=%s, queue=%s)", rc.Exchange, rc.Queue)
	return rc, nil
}

func BuildMailerConfig(cfg *config.Config) mailer.Config {
	return mailer.Config{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetInt("smtp.port"),
		From:     cfg.GetString("smtp.from"),
		Password: cfg.GetString("smtp.password"),
	}
}

func BuildStripeConfig(cfg *config.Config) stripe.Config {
	return stripe.Config{
		Enabled:       cfg.GetBool("gateways.stripe.enabled"),
		TestMode:      cfg.GetBool("gateways.stripe.test_mode"),
		SecretKey:     cfg.GetString("gateways.stripe.secret_key"),
		WebhookSecret: cfg.GetString("gateways.stripe.webhook_secret"),
		APIBase:       cfg.GetString("gateways.stripe.api_base"),
	}
}

func BuildPaypalConfig(cfg *config.Config) paypal.Config {
	return paypal.Config{
		Enabled:      cfg.GetBool("gateways.paypal.enabled"),
		TestMode:     cfg.GetBool("gateways.paypal.test_mode"),
		BusinessID:   cfg.GetString("gateways.paypal.business_id"),
		SharedSecret: cfg.GetString("gateways.paypal.shared_secret"),
		CheckoutBase: cfg.GetString("gateways.paypal.checkout_base"),
	}
}
