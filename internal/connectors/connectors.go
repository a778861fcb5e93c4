// Package connectors holds messaging channel integrations that feed the gateway.
package connectors

import "context"

// Connector is a long-running channel integration. Start blocks until ctx is done.
type Connector interface {
	Name() string
	Start(ctx context.Context) error
}

// ChannelGateway turns one inbound channel message into a reply.
type ChannelGateway interface {
	HandleChannelMessage(ctx context.Context, tenantID, channel, userID, text string) string
}
