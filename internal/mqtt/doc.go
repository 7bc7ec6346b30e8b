// Package mqtt connects modes to an MQTT broker through one shared
// Eclipse Paho [autopaho] connection. The [Client] owns the connection,
// publishes a retained availability topic with a will message, and
// routes inbound messages to registered topic filters, re-subscribing
// after every reconnect.
//
// On top of the client the package provides a topic input source, a
// publish action connector, a JSON simulator that mirrors proposed
// actions, a speech sink and a periodic status background.
package mqtt
