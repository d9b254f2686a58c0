package wire

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/graft-sh/graft/gerrs"
)

// Client is the RPC sender client/runtime and client/sync share for talking
// to a metastore or pagestore: one fasthttp.Client, reused across every
// call, with the token attached per request rather than per connection.
type Client struct {
	hc      *fasthttp.Client
	baseURL string
	token   func() string
	timeout time.Duration
}

// NewClient targets baseURL (e.g. "http://127.0.0.1:9090"). token is called
// fresh on every request so a refreshed/reissued token takes effect
// immediately without reconstructing the Client.
func NewClient(baseURL string, token func() string) *Client {
	return &Client{
		hc:      &fasthttp.Client{Name: "graft-client"},
		baseURL: baseURL,
		token:   token,
		timeout: 30 * time.Second,
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Post sends body to route and returns the raw response bytes on 200,
// or the decoded gerrs.Error for any other status.
func (c *Client) Post(route string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + route)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(ContentType)
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", tok)
		}
	}
	req.SetBody(body)

	if err := c.hc.DoTimeout(req, resp, c.timeout); err != nil {
		return nil, gerrs.NetworkErr("post %s: %v", route, err)
	}

	respBody := append([]byte(nil), resp.Body()...)
	if resp.StatusCode() != fasthttp.StatusOK {
		ge, err := DecodeError(respBody)
		if err != nil {
			return nil, gerrs.Wrap(gerrs.KindNetwork, err, "post %s: status %d, undecodable error body", route, resp.StatusCode())
		}
		return nil, ge
	}
	return respBody, nil
}

func (c *Client) String() string { return fmt.Sprintf("wire.Client(%s)", c.baseURL) }
