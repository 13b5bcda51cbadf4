// Package notifier sends rate-limited outbound messages about alarm episodes.
//
// A message is sent at most once per episode for each enabled class, and no
// more often than the global cooldown allows. When an episode that produced a
// message ends, a single reset message follows. Delivery is asynchronous and
// failures are only logged.
//
// NewSender builds the transport from the configured endpoint: Discord and
// generic webhooks and other shoutrrr services go through shoutrrr, MQTT
// endpoints publish to a broker topic with paho.
package notifier
