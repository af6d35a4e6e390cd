package storage

import (
	"fmt"

	nc "github.com/dataparency-dev/natsclient"
	"go.uber.org/zap"
)

// ConnectNATSStore connects to and authenticates against a NATS-backed
// AESP server, mirroring the teacher's Engine.NewEngine connect/login
// sequence (engine.go), and returns a ready-to-use NATSStore.
func ConnectNATSStore(natsURL, serverTopic, user, password string, log *zap.Logger) (*NATSStore, error) {
	conn := nc.ConnectAPI(natsURL, serverTopic)
	if conn == nil {
		return nil, fmt.Errorf("storage: failed to connect to NATS at %s", natsURL)
	}
	token := nc.LoginAPI(serverTopic, user, password)
	if token.Token == "" {
		return nil, fmt.Errorf("storage: authentication failed for user %s", user)
	}
	return NewNATSStore(serverTopic, token, log), nil
}
