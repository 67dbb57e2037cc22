package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/push"
)

// Package-level logger for provider events
var providerLogger *slog.Logger

func init() {
	var err error
	providerLogger, _, err = logging.NewFileLogger("logs/provider.log", "provider", slog.LevelInfo)
	if err != nil || providerLogger == nil {
		// Fallback to the default structured logger
		providerLogger = slog.Default().With("service", "provider")
	}
}

// MQTTProvider implements Provider over an MQTT broker. Device tokens are
// opaque capability strings naming the per-device delivery topic
// <topicprefix>/<token>; the broker never interprets them, so issuance is
// local and deletion simply abandons the topic.
type MQTTProvider struct {
	config          conf.ProviderSettings
	internalClient  mqtt.Client
	token           string
	subscribedTopic string
	deliver         DeliverFunc
	lastConnAttempt time.Time
	mu              sync.Mutex
}

// NewMQTTProvider creates a provider from settings
func NewMQTTProvider(settings *conf.Settings) *MQTTProvider {
	return &MQTTProvider{
		config: settings.Provider,
	}
}

// Token returns the current device token, issuing a new one if needed.
// Token issuance requires broker reachability so that a granted permission
// without connectivity degrades to "no token" rather than a dangling
// registration.
func (p *MQTTProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return "", errors.New(err).
			Component("provider").
			Category(errors.CategoryTokenAcquisition).
			Context("broker", p.config.Broker).
			Build()
	}

	if p.token == "" {
		p.token = uuid.New().String()
		providerLogger.Info("issued new device token", "token_suffix", tokenSuffix(p.token))
	}
	return p.token, nil
}

// DeleteToken invalidates the current token. Best effort: the subscription
// is dropped if connected, and the token is forgotten either way.
func (p *MQTTProvider) DeleteToken(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" {
		return nil
	}

	var unsubErr error
	if p.internalClient != nil && p.internalClient.IsConnected() && p.subscribedTopic != "" {
		token := p.internalClient.Unsubscribe(p.subscribedTopic)
		if !token.WaitTimeout(p.config.RequestTimeout) {
			unsubErr = fmt.Errorf("unsubscribe timeout for %s", p.subscribedTopic)
		} else {
			unsubErr = token.Error()
		}
	}

	providerLogger.Info("deleted device token", "token_suffix", tokenSuffix(p.token))
	p.token = ""
	p.subscribedTopic = ""

	if unsubErr != nil {
		return errors.New(unsubErr).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("operation", "delete_token").
			Build()
	}
	return nil
}

// Subscribe starts payload delivery on the token's topic
func (p *MQTTProvider) Subscribe(ctx context.Context, token string, deliver DeliverFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("operation", "subscribe").
			Build()
	}

	topic := p.topicFor(token)
	p.deliver = deliver

	mqttToken := p.internalClient.Subscribe(topic, 1, p.onMessage)
	if !mqttToken.WaitTimeout(p.config.RequestTimeout) {
		return errors.Newf("subscribe timeout for topic %s", topic).
			Component("provider").
			Category(errors.CategoryNetwork).
			Build()
	}
	if err := mqttToken.Error(); err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}

	p.subscribedTopic = topic
	providerLogger.Info("subscribed to delivery topic", "topic", topic)
	return nil
}

// Publish sends a payload to a device topic. Used by the notify command for
// end-to-end testing; real payloads originate from the backend.
func (p *MQTTProvider) Publish(ctx context.Context, token string, payload *push.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("operation", "publish").
			Build()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryValidation).
			Context("operation", "encode_payload").
			Build()
	}

	topic := p.topicFor(token)
	mqttToken := p.internalClient.Publish(topic, 1, false, data)
	if !mqttToken.WaitTimeout(p.config.RequestTimeout) {
		return errors.Newf("publish timeout for topic %s", topic).
			Component("provider").
			Category(errors.CategoryNetwork).
			Build()
	}
	if err := mqttToken.Error(); err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

// Close disconnects from the broker
func (p *MQTTProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.internalClient != nil && p.internalClient.IsConnected() {
		p.internalClient.Disconnect(250)
		providerLogger.Info("disconnected from broker")
	}
}

// connectLocked establishes the broker connection if needed. Caller holds mu.
func (p *MQTTProvider) connectLocked(ctx context.Context) error {
	if p.internalClient != nil && p.internalClient.IsConnected() {
		return nil
	}

	if time.Since(p.lastConnAttempt) < p.config.ReconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(p.lastConnAttempt))
	}
	p.lastConnAttempt = time.Now()

	u, err := url.Parse(p.config.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	host := u.Hostname()
	// Resolve hostnames early for a clearer error than a connect timeout
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			if dnsErr, ok := err.(*net.DNSError); ok {
				return dnsErr
			}
			return fmt.Errorf("failed to resolve hostname %s: %w", host, err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(fmt.Sprintf("emspush-%s", uuid.New().String()[:8]))
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectCooldown)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.internalClient = mqtt.NewClient(opts)

	token := p.internalClient.Connect()
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection error: %w", err)
	}

	return nil
}

// onMessage decodes an incoming payload and hands it to the delivery sink
func (p *MQTTProvider) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload push.Payload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		providerLogger.Error("failed to decode payload", "topic", msg.Topic(), "error", err)
		return
	}

	p.mu.Lock()
	deliver := p.deliver
	p.mu.Unlock()

	if deliver != nil {
		deliver(&payload)
	}
}

func (p *MQTTProvider) onConnect(client mqtt.Client) {
	providerLogger.Info("connected to broker", "broker", p.config.Broker)

	// Restore the delivery subscription after a reconnect
	p.mu.Lock()
	topic := p.subscribedTopic
	p.mu.Unlock()
	if topic != "" {
		client.Subscribe(topic, 1, p.onMessage)
	}
}

func (p *MQTTProvider) onConnectionLost(_ mqtt.Client, err error) {
	providerLogger.Warn("connection to broker lost", "error", err)
}

func (p *MQTTProvider) topicFor(token string) string {
	return fmt.Sprintf("%s/%s", p.config.TopicPrefix, token)
}

// tokenSuffix returns the last characters of a token for log correlation
// without exposing the full credential.
func tokenSuffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
