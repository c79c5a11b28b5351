package sgapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// defaultAckWait bounds the wait for the single best-effort acknowledgment
// frame after a command is written. Some gateway deployments never answer,
// so elapsing the deadline is not a failure.
const defaultAckWait = 5 * time.Second

// ResolveControlEndpoint asks the route service which WebSocket gateway
// serves the sector's devices. No session is required. A failure here means
// control is unavailable for the sector; callers should not retry in a loop.
func (c *Client) ResolveControlEndpoint(ctx context.Context, sectorUUID string) (ControlEndpoint, error) {
	var ep ControlEndpoint
	body := map[string]string{"sector_uuid": sectorUUID}
	if err := c.request(ctx, http.MethodPost, c.routeURL+routePath, body, &ep); err != nil {
		return ControlEndpoint{}, err
	}
	if ep.Host == "" || ep.Path == "" {
		return ControlEndpoint{}, fmt.Errorf("%w: control endpoint response missing host or path", ErrAPI)
	}
	return ep, nil
}

// TurnOn switches the luminaire at meshID on.
func (c *Client) TurnOn(ctx context.Context, ep ControlEndpoint, sectorUUID string, meshID int) error {
	return c.SendCommand(ctx, ep, sectorUUID, meshID, CommandOn)
}

// TurnOff switches the luminaire at meshID off.
func (c *Client) TurnOff(ctx context.Context, ep ControlEndpoint, sectorUUID string, meshID int) error {
	return c.SendCommand(ctx, ep, sectorUUID, meshID, CommandOff)
}

// Dim sets the luminaire's brightness to percent (1-100).
func (c *Client) Dim(ctx context.Context, ep ControlEndpoint, sectorUUID string, meshID int, percent int) error {
	cmd, err := EncodeDim(percent)
	if err != nil {
		return err
	}
	return c.SendCommand(ctx, ep, sectorUUID, meshID, cmd)
}

// SendCommand opens a WebSocket to the sector's control gateway, sends one
// framed command, waits for at most one acknowledgment frame, and closes.
// Every call gets its own connection; cancelling ctx closes it promptly.
func (c *Client) SendCommand(ctx context.Context, ep ControlEndpoint, sectorUUID string, meshID int, commandHex string) error {
	if ep.Host == "" || ep.Path == "" {
		return fmt.Errorf("%w: control endpoint must have non-empty host and path", ErrInvalidArgument)
	}

	frame, err := controlFrame(sectorUUID, meshID, commandHex)
	if err != nil {
		return err
	}

	// The https replacement must run first: "https://" contains "http://".
	wsURL := ep.Host + ep.Path + "/socket.io/?EIO=3&transport=websocket"
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	// Dial with the session's HTTP client so the gateway sees the same
	// cookies (it may require session affinity).
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrCommunication, wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("%w: send command: %w", ErrCommunication, err)
	}
	c.logger.Debug("command sent", "sector", strings.ToLower(sectorUUID), "mesh_id", meshID, "command", commandHex)

	// Fire-and-forget with one bounded ack wait: the first text frame ends
	// the exchange and its content is not parsed. Hitting the ack deadline
	// is fine — the command is already written.
	ackCtx, cancel := context.WithTimeout(ctx, c.ackWait)
	defer cancel()
	for {
		typ, _, err := conn.Read(ackCtx)
		if err != nil {
			if ackCtx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			// A close frame from the gateway ends the exchange like an ack
			// would: the command was already written.
			if websocket.CloseStatus(err) != -1 && ctx.Err() == nil {
				return nil
			}
			return fmt.Errorf("%w: wait for acknowledgment: %w", ErrCommunication, err)
		}
		if typ == websocket.MessageText {
			return nil
		}
	}
}
