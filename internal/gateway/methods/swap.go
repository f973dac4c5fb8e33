// Package methods registers the card swap commands on the gateway router.
package methods

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/cardswap/internal/gateway"
	"github.com/nextlevelbuilder/cardswap/internal/swap"
	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

// Positional argument order per command.
var (
	subscribeArgs   = []string{"deviceId", "longitude", "latitude", "displayName", "image"}
	updateArgs      = []string{"deviceId", "longitude", "latitude", "displayName"}
	unsubscribeArgs = []string{"deviceId"}
	requestArgs     = []string{"deviceId", "peerDeviceId", "displayName"}
	acceptArgs      = []string{"peerDeviceId", "deviceId", "displayName", "cardData"}
	revokeArgs      = []string{"deviceId", "peerDeviceId"}
	sendArgs        = []string{"deviceId", "peerDeviceId", "displayName", "cardData"}
)

// SwapMethods handles Subscribe, Update, Unsubscribe, RequestCardExchange,
// AcceptCardExchange, RevokeCardExchangeRequest and SendCardData.
type SwapMethods struct {
	dispatcher *swap.Dispatcher
}

func NewSwapMethods(d *swap.Dispatcher) *SwapMethods {
	return &SwapMethods{dispatcher: d}
}

func (m *SwapMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodSubscribe, m.handleSubscribe)
	router.Register(protocol.MethodUpdate, m.handleUpdate)
	router.Register(protocol.MethodUnsubscribe, m.handleUnsubscribe)
	router.Register(protocol.MethodRequestCardExchange, m.handleRequest)
	router.Register(protocol.MethodAcceptCardExchange, m.handleAccept)
	router.Register(protocol.MethodRevokeCardExchangeRequest, m.handleRevoke)
	router.Register(protocol.MethodSendCardData, m.handleSend)
}

// HandleDisconnect tears down every device the closing client subscribed.
// Register it with Server.OnDisconnect.
func (m *SwapMethods) HandleDisconnect(client *gateway.Client) {
	for _, id := range client.Devices() {
		if err := m.dispatcher.Dispatch(context.Background(), client, swap.Disconnect{DeviceID: id}); err != nil {
			slog.Warn("disconnect cleanup failed", "device", id, "client", client.ID(), "error", err)
		}
	}
}

func (m *SwapMethods) handleSubscribe(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID    string   `json:"deviceId"`
		Longitude   *float64 `json:"longitude"`
		Latitude    *float64 `json:"latitude"`
		DisplayName string   `json:"displayName"`
		Image       string   `json:"image"`
	}
	if err := bindParams(req.Params, subscribeArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	lon, lat, err := requireCoords(params.Longitude, params.Latitude)
	if err != nil {
		respond(ctx, client, req, err)
		return
	}
	image, err := decodeImage(params.Image)
	if err != nil {
		respond(ctx, client, req, err)
		return
	}

	err = m.dispatcher.Dispatch(ctx, client, swap.Subscribe{
		DeviceID:    params.DeviceID,
		Longitude:   lon,
		Latitude:    lat,
		DisplayName: params.DisplayName,
		Image:       image,
	})
	if err == nil {
		client.AddDevice(params.DeviceID)
	}
	respond(ctx, client, req, err)
}

func (m *SwapMethods) handleUpdate(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID    string   `json:"deviceId"`
		Longitude   *float64 `json:"longitude"`
		Latitude    *float64 `json:"latitude"`
		DisplayName string   `json:"displayName"`
	}
	if err := bindParams(req.Params, updateArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	lon, lat, err := requireCoords(params.Longitude, params.Latitude)
	if err != nil {
		respond(ctx, client, req, err)
		return
	}
	respond(ctx, client, req, m.dispatcher.Dispatch(ctx, client, swap.Update{
		DeviceID:    params.DeviceID,
		Longitude:   lon,
		Latitude:    lat,
		DisplayName: params.DisplayName,
	}))
}

func (m *SwapMethods) handleUnsubscribe(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID string `json:"deviceId"`
	}
	if err := bindParams(req.Params, unsubscribeArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	err := m.dispatcher.Dispatch(ctx, client, swap.Unsubscribe{DeviceID: params.DeviceID})
	if err == nil {
		client.RemoveDevice(params.DeviceID)
	}
	respond(ctx, client, req, err)
}

func (m *SwapMethods) handleRequest(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID     string `json:"deviceId"`
		PeerDeviceID string `json:"peerDeviceId"`
		DisplayName  string `json:"displayName"`
	}
	if err := bindParams(req.Params, requestArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	respond(ctx, client, req, m.dispatcher.Dispatch(ctx, client, swap.RequestCardExchange{
		DeviceID:     params.DeviceID,
		PeerDeviceID: params.PeerDeviceID,
		DisplayName:  params.DisplayName,
	}))
}

func (m *SwapMethods) handleAccept(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		PeerDeviceID string `json:"peerDeviceId"`
		DeviceID     string `json:"deviceId"`
		DisplayName  string `json:"displayName"`
		CardData     string `json:"cardData"`
	}
	if err := bindParams(req.Params, acceptArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	respond(ctx, client, req, m.dispatcher.Dispatch(ctx, client, swap.AcceptCardExchange{
		PeerDeviceID: params.PeerDeviceID,
		DeviceID:     params.DeviceID,
		DisplayName:  params.DisplayName,
		CardData:     params.CardData,
	}))
}

func (m *SwapMethods) handleRevoke(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID     string `json:"deviceId"`
		PeerDeviceID string `json:"peerDeviceId"`
	}
	if err := bindParams(req.Params, revokeArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	respond(ctx, client, req, m.dispatcher.Dispatch(ctx, client, swap.RevokeCardExchangeRequest{
		DeviceID:     params.DeviceID,
		PeerDeviceID: params.PeerDeviceID,
	}))
}

func (m *SwapMethods) handleSend(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		DeviceID     string `json:"deviceId"`
		PeerDeviceID string `json:"peerDeviceId"`
		DisplayName  string `json:"displayName"`
		CardData     string `json:"cardData"`
	}
	if err := bindParams(req.Params, sendArgs, &params); err != nil {
		respond(ctx, client, req, err)
		return
	}
	respond(ctx, client, req, m.dispatcher.Dispatch(ctx, client, swap.SendCardData{
		DeviceID:     params.DeviceID,
		PeerDeviceID: params.PeerDeviceID,
		DisplayName:  params.DisplayName,
		CardData:     params.CardData,
	}))
}

// respond acknowledges req. Errors become error frames only: the command
// already emitted no events.
func respond(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame, err error) {
	if err == nil {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"status": "ok"}))
		return
	}
	code := errorCode(err)
	if code == protocol.ErrInternal {
		slog.Error("command failed", "method", req.Method, "client", client.ID(), "error", err)
	} else {
		slog.Debug("command rejected", "method", req.Method, "client", client.ID(), "code", code, "error", err)
	}
	gateway.RecordError(ctx, err)
	client.SendResponse(protocol.NewErrorResponse(req.ID, code, err.Error()))
}

func errorCode(err error) string {
	var ve *swap.ValidationError
	switch {
	case errors.As(err, &ve):
		return protocol.ErrInvalidRequest
	case errors.Is(err, swap.ErrNotSubscribed):
		return protocol.ErrNotSubscribed
	case errors.Is(err, swap.ErrStaleHandshake):
		return protocol.ErrFailedPrecondition
	default:
		return protocol.ErrInternal
	}
}
