// Package infra contains technical adapters such as the MQTT vendor
// channel, the Redis roster client and metrics exporters. These
// packages should depend only on the interfaces defined in the core
// packages.
package infra
