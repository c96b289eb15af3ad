package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/internal/utils"
	"github.com/jrsteele09/go-crm-session/users"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const DefaultPermissionsEndpoint = "/permissions/me"

// PermissionsResponse is the caller's permission set. The backend sends
// either permissionNames as strings or permissions as objects with a name;
// both decode into Names.
type PermissionsResponse struct {
	Names []string
	Role  string
}

func (p *PermissionsResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		PermissionNames []string          `json:"permissionNames"`
		Permissions     []json.RawMessage `json:"permissions"`
		Role            any               `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	names := append([]string(nil), raw.PermissionNames...)
	for _, item := range raw.Permissions {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			names = append(names, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return err
		}
		names = append(names, obj.Name)
	}

	p.Names = utils.UniqueSorted(names)
	p.Role = users.NormalizeRole(raw.Role)
	return nil
}

// Reauthenticator renews the session after the backend rejects a token.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// PermissionsClient reads the caller's permissions with the session's
// bearer token.
type PermissionsClient struct {
	baseURL    string
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewPermissionsClient builds a client that authenticates through ts. When
// reauth is set, a 401 triggers one reauthentication and one retry.
func NewPermissionsClient(baseURL, endpoint string, ts oauth2.TokenSource, reauth Reauthenticator, opts ...Option) *PermissionsClient {
	o := buildOptions(opts)
	if endpoint == "" {
		endpoint = DefaultPermissionsEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	base := o.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = &oauth2.Transport{Source: ts, Base: base}
	if reauth != nil {
		rt = &retryTransport{base: rt, reauth: reauth, logger: o.logger}
	}

	return &PermissionsClient{
		baseURL:  trimBase(baseURL),
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   o.httpClient.Timeout,
		},
		logger: o.logger,
	}
}

// MyPermissions fetches the permission set of the logged-in user.
func (c *PermissionsClient) MyPermissions(ctx context.Context) (*PermissionsResponse, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, c.baseURL+c.endpoint, nil)
	if err != nil {
		return nil, errs.Wrapf(err, "[PermissionsClient MyPermissions]")
	}
	var resp PermissionsResponse
	if err := do(c.httpClient, req, &resp); err != nil {
		return nil, errs.Wrapf(err, "[PermissionsClient MyPermissions]")
	}
	c.logger.Debug().Int("count", len(resp.Names)).Str("role", resp.Role).Msg("permissions fetched")
	return &resp, nil
}

// retryTransport reauthenticates once on 401 and replays body-less requests.
type retryTransport struct {
	base   http.RoundTripper
	reauth Reauthenticator
	logger zerolog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody {
		return resp, nil
	}

	if rerr := t.reauth.Reauthenticate(req.Context()); rerr != nil {
		t.logger.Warn().Err(rerr).Str("path", req.URL.Path).Msg("reauthentication after 401 failed")
		return resp, nil
	}
	resp.Body.Close()

	t.logger.Debug().Str("path", req.URL.Path).Msg("retrying request with renewed token")
	return t.base.RoundTrip(req.Clone(req.Context()))
}
