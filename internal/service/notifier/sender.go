package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

const (
	// mqttQoS delivers alarms at least once.
	mqttQoS = 1
	// mqttDisconnectQuiesce is the time in milliseconds given to in-flight work on disconnect.
	mqttDisconnectQuiesce = 250
)

var (
	// ErrUnsupportedEndpoint is returned when no transport understands the endpoint.
	ErrUnsupportedEndpoint = errors.New("unsupported notification endpoint")
	// ErrDeliveryTimeout is returned when the transport does not confirm a delivery in time.
	ErrDeliveryTimeout = errors.New("notification delivery timed out")
	// errInvalidDiscordWebhook is returned for discord URLs without id and token.
	errInvalidDiscordWebhook = errors.New("discord webhook must look like /api/webhooks/<id>/<token>")
)

// NewSender builds a transport for endpoint. An empty endpoint returns a nil Sender.
func NewSender(endpoint string, timeout time.Duration) (Sender, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, nil //nolint:nilnil // Notifications are optional.
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	u, err := parseURL(endpoint)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		return newMQTTSender(u, timeout), nil
	case "http", "https":
		serviceURL, convErr := webhookServiceURL(u)
		if convErr != nil {
			return nil, convErr
		}

		return newShoutrrrSender(serviceURL, timeout)
	default:
		return newShoutrrrSender(endpoint, timeout)
	}
}

// serviceScheme returns the scheme of a shoutrrr URL without the rest of it.
func serviceScheme(serviceURL string) string {
	scheme, _, _ := strings.Cut(serviceURL, ":")

	return scheme
}

// webhookServiceURL converts a plain webhook URL into a shoutrrr service URL.
func webhookServiceURL(u *url.URL) (string, error) {
	host := strings.ToLower(u.Hostname())
	if host != "discord.com" && host != "discordapp.com" && !strings.HasSuffix(host, ".discord.com") {
		return "generic+" + u.String(), nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "webhooks" || parts[2] == "" || parts[3] == "" {
		return "", errInvalidDiscordWebhook
	}

	return fmt.Sprintf("discord://%s@%s", parts[3], parts[2]), nil
}

// shoutrrrSender delivers through a shoutrrr service router.
type shoutrrrSender struct {
	router *router.ServiceRouter
}

func newShoutrrrSender(serviceURL string, timeout time.Duration) (Sender, error) {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		// The URL may carry tokens, keep it out of the error.
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, serviceScheme(serviceURL))
	}

	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &shoutrrrSender{router: sender}, nil
}

// Send implements Sender. The router applies its own timeout.
func (s *shoutrrrSender) Send(_ context.Context, text string) error {
	for _, err := range s.router.Send(text, &stypes.Params{}) {
		if err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
	}

	return nil
}

// mqttSender publishes messages to a broker topic.
type mqttSender struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration

	// mu serializes connects and publishes.
	mu sync.Mutex
}

func newMQTTSender(u *url.URL, timeout time.Duration) *mqttSender {
	scheme := strings.ToLower(u.Scheme)

	switch scheme {
	case "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host)
	opts.SetClientID("eve-alert-" + uuid.NewString())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)

	if u.User != nil {
		opts.SetUsername(u.User.Username())

		if password, ok := u.User.Password(); ok {
			opts.SetPassword(password)
		}
	}

	return &mqttSender{
		client:  mqtt.NewClient(opts),
		topic:   strings.Trim(u.Path, "/"),
		timeout: timeout,
	}
}

// Send connects on first use and publishes text to the topic.
func (s *mqttSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.client.IsConnected() {
		if err := s.wait(ctx, s.client.Connect()); err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
	}

	if err := s.wait(ctx, s.client.Publish(s.topic, mqttQoS, false, text)); err != nil {
		return fmt.Errorf("publish to %q: %w", s.topic, err)
	}

	return nil
}

func (s *mqttSender) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrDeliveryTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (s *mqttSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectQuiesce)
	}

	return nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse notification endpoint: %w", err)
	}

	return u, nil
}
