package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pmgate/pmgate/util"

	"golang.org/x/time/rate"
)

// Gateway talks JSON-over-HTTP to the platform gateway sidecar.
type Gateway struct {
	// Client is an HTTP client to use. If not set, defaults to util.RobustHTTPClient().
	Client *http.Client
	// Host is the gateway base URL, eg "http://localhost:2502".
	Host string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	// Limiter paces outbound calls when set. The gateway proxies to the real
	// platform, which throttles aggressively on bursts.
	Limiter   *rate.Limiter
	UserAgent *string
}

func NewGateway(host, authToken string) *Gateway {
	return &Gateway{
		Client:    util.RobustHTTPClient(),
		Host:      host,
		AuthToken: authToken,
		Limiter:   rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (g *Gateway) getClient() *http.Client {
	if g.Client == nil {
		return util.RobustHTTPClient()
	}
	return g.Client
}

type gatewayError struct {
	ErrStr  string `json:"error"`
	Message string `json:"message"`
}

func (ge *gatewayError) Error() string {
	return fmt.Sprintf("%s: %s", ge.ErrStr, ge.Message)
}

func (g *Gateway) do(ctx context.Context, method, path string, params url.Values, bodyobj, out any) error {
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	uri := g.Host + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.AuthToken)
	}
	if g.UserAgent != nil {
		req.Header.Set("User-Agent", *g.UserAgent)
	}

	resp, err := g.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPeerNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		var ge gatewayError
		if err := json.NewDecoder(resp.Body).Decode(&ge); err != nil || ge.ErrStr == "" {
			return fmt.Errorf("%w: HTTP %d", ErrGatewayStatus, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", ErrGatewayStatus, ge.Error())
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return nil
}

func peerPath(kind string, peer int64, op string) string {
	return "/v1/" + kind + "/" + strconv.FormatInt(peer, 10) + "/" + op
}

func (g *Gateway) ArchiveConversation(ctx context.Context, peer int64) error {
	return g.do(ctx, http.MethodPost, peerPath("conversations", peer, "archive"), nil, nil, nil)
}

func (g *Gateway) RestoreConversation(ctx context.Context, peer int64) error {
	return g.do(ctx, http.MethodPost, peerPath("conversations", peer, "restore"), nil, nil, nil)
}

func (g *Gateway) MuteConversation(ctx context.Context, peer int64) error {
	return g.do(ctx, http.MethodPost, peerPath("conversations", peer, "mute"), nil, nil, nil)
}

func (g *Gateway) SendMessage(ctx context.Context, peer int64, text string) error {
	body := map[string]string{"text": text}
	return g.do(ctx, http.MethodPost, peerPath("conversations", peer, "messages"), nil, body, nil)
}

func (g *Gateway) ReportAndBlock(ctx context.Context, peer int64, reason string) error {
	body := map[string]string{"reason": reason}
	return g.do(ctx, http.MethodPost, peerPath("peers", peer, "reportBlock"), nil, body, nil)
}

func (g *Gateway) EraseSharedHistory(ctx context.Context, peer int64) error {
	return g.do(ctx, http.MethodPost, peerPath("peers", peer, "eraseHistory"), nil, nil, nil)
}

func (g *Gateway) GetCommonGroupCount(ctx context.Context, peer int64) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := g.do(ctx, http.MethodGet, peerPath("peers", peer, "commonGroups"), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (g *Gateway) ClassifyAccount(ctx context.Context, peer int64) (AccountClass, error) {
	var out AccountClass
	if err := g.do(ctx, http.MethodGet, peerPath("peers", peer, "class"), nil, nil, &out); err != nil {
		return AccountClass{}, err
	}
	return out, nil
}

func (g *Gateway) HasPriorExchange(ctx context.Context, peer int64, excludingMessageID int64) (bool, error) {
	params := url.Values{}
	if excludingMessageID != 0 {
		params.Set("excludingMessage", strconv.FormatInt(excludingMessageID, 10))
	}
	var out struct {
		Exchanged bool `json:"exchanged"`
	}
	if err := g.do(ctx, http.MethodGet, peerPath("peers", peer, "priorExchange"), params, nil, &out); err != nil {
		return false, err
	}
	return out.Exchanged, nil
}

func (g *Gateway) ListConversations(ctx context.Context) ([]int64, error) {
	var out struct {
		Peers []int64 `json:"peers"`
	}
	if err := g.do(ctx, http.MethodGet, "/v1/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Peers, nil
}

var _ Client = (*Gateway)(nil)
