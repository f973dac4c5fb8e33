package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

// hubURL builds the websocket URL clients should dial. gateway.publicUrl wins
// when set; otherwise the listen address is used, with 0.0.0.0 mapped to loopback.
func hubURL(cfg *config.Config) string {
	if cfg.Gateway.PublicURL != "" {
		return cfg.Gateway.PublicURL
	}
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "ws", Host: host + ":" + strconv.Itoa(cfg.Gateway.Port), Path: cfg.Gateway.Path}
	return u.String()
}

// gatewayRPC connects to the running gateway, sends the connect handshake and
// one RPC call, and returns the response.
func gatewayRPC(method string, params json.RawMessage) (*protocol.ResponseFrame, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	target := hubURL(cfg)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(target, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to gateway at %s: %w", target, err)
	}
	defer conn.Close()

	// Step 1: Send connect handshake
	connectParams, _ := json.Marshal(map[string]interface{}{
		"client":   "cardswap-cli",
		"protocol": protocol.ProtocolVersion,
	})
	if err := conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "cli-connect",
		Method: protocol.MethodConnect,
		Params: connectParams,
	}); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var connectResp protocol.ResponseFrame
	if err := conn.ReadJSON(&connectResp); err != nil {
		return nil, fmt.Errorf("read connect response: %w", err)
	}
	if !connectResp.OK {
		msg := "unknown error"
		if connectResp.Error != nil {
			msg = connectResp.Error.Message
		}
		return nil, fmt.Errorf("connect failed: %s", msg)
	}

	// Step 2: Send the RPC call
	if err := conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "cli-rpc",
		Method: method,
		Params: params,
	}); err != nil {
		return nil, fmt.Errorf("send RPC: %w", err)
	}

	// Read response (skip events, find response with matching ID)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		frameType, _ := protocol.ParseFrameType(msg)
		if frameType == protocol.FrameTypeEvent {
			continue
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if resp.ID == "cli-rpc" {
			return &resp, nil
		}
	}
}
