// Package client implementa ports.Authority sobre la API HTTP. No reintenta
// nunca: una firma o un reenvío duplicados no son inocuos.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collie-procedures-backend/pkg/adapters/httpapi"
	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// DefaultTimeout acota cada llamada a la autoridad.
const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token es el bearer token del trabajador.
	Token string
	// Platform se envía con la verificación de firma.
	Platform string
}

// New crea un cliente con el timeout por defecto.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Token:   token,
	}
}

func (c *Client) FetchProcedure(ctx context.Context, id string) (*domain.Procedure, error) {
	var p domain.Procedure
	if err := c.do(ctx, http.MethodGet, procedurePath(id, ""), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) OpenProcedure(ctx context.Context, id string) (*domain.Procedure, error) {
	return c.transition(ctx, id, "open", nil)
}

func (c *Client) MarkProcedureRead(ctx context.Context, id string) (*domain.Procedure, error) {
	return c.transition(ctx, id, "read", nil)
}

func (c *Client) RespondProcedure(ctx context.Context, id string, accepts bool, comment string) (*domain.Procedure, error) {
	return c.transition(ctx, id, "respond", httpapi.RespondRequest{Accepts: accepts, Comment: comment})
}

func (c *Client) AnnulProcedure(ctx context.Context, id, reason string) (*domain.Procedure, error) {
	return c.transition(ctx, id, "annul", httpapi.AnnulRequest{Reason: reason})
}

func (c *Client) ResendProcedure(ctx context.Context, id string, payload domain.ResendPayload) (*domain.Procedure, error) {
	return c.transition(ctx, id, "resend", payload)
}

func (c *Client) transition(ctx context.Context, id, action string, body any) (*domain.Procedure, error) {
	if body == nil {
		body = struct{}{}
	}
	var p domain.Procedure
	if err := c.do(ctx, http.MethodPost, procedurePath(id, "/"+action), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) RequestSignatureCode(ctx context.Context, procedureID string) (*domain.ChallengeTicket, error) {
	var t domain.ChallengeTicket
	if err := c.do(ctx, http.MethodPost, procedurePath(procedureID, "/signature/code"), struct{}{}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// VerifySignatureCode implementa ports.Authority. La IP y el user agent los
// toma el servidor de la conexión; env solo aporta plataforma e idioma.
func (c *Client) VerifySignatureCode(ctx context.Context, procedureID, code string, acceptsTerms bool, env domain.ClientEnvironment) (*ports.SignatureResult, error) {
	platform := env.Platform
	if platform == "" {
		platform = c.Platform
	}
	req := httpapi.VerifyRequest{
		Code:         code,
		AcceptsTerms: acceptsTerms,
		Platform:     platform,
		Language:     env.Language,
	}
	var res ports.SignatureResult
	if err := c.do(ctx, http.MethodPost, procedurePath(procedureID, "/signature/verify"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CreateObservation(ctx context.Context, procedureID string, category domain.ObservationCategory, body string) (*domain.Observation, error) {
	var o domain.Observation
	req := httpapi.CreateObservationRequest{Category: category, Body: body}
	if err := c.do(ctx, http.MethodPost, procedurePath(procedureID, "/observations"), req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) ResolveObservation(ctx context.Context, observationID, resolution string, resend *domain.ResendPayload) (*domain.Observation, error) {
	var o domain.Observation
	req := httpapi.ResolveObservationRequest{Resolution: resolution, Resend: resend}
	if err := c.do(ctx, http.MethodPost, "/observations/"+url.PathEscape(observationID)+"/resolve", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) ListObservations(ctx context.Context, procedureID string) ([]domain.Observation, error) {
	var out []domain.Observation
	if err := c.do(ctx, http.MethodGet, procedurePath(procedureID, "/observations"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) HasUnresolvedObservation(ctx context.Context, procedureID string) (bool, error) {
	var out httpapi.UnresolvedResponse
	if err := c.do(ctx, http.MethodGet, procedurePath(procedureID, "/observations/unresolved"), nil, &out); err != nil {
		return false, err
	}
	return out.Unresolved, nil
}

// FetchDocumentContent implementa ports.Authority. El llamador cierra el cuerpo.
func (c *Client) FetchDocumentContent(ctx context.Context, procedureID string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, procedurePath(procedureID, "/document/content"), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeProblem(resp)
	}
	return resp.Body, nil
}

func (c *Client) FetchDocumentDownloadURL(ctx context.Context, procedureID string) (string, error) {
	var out httpapi.DownloadURLResponse
	if err := c.do(ctx, http.MethodGet, procedurePath(procedureID, "/document/download-url"), nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func procedurePath(id, suffix string) string {
	return "/procedures/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeProblem(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindUnavailable, Message: "procedure authority is unreachable", Cause: err}
	}
	return resp, nil
}

// decodeProblem reconstruye el *domain.Error a partir del problem detail.
func decodeProblem(resp *http.Response) error {
	var p httpapi.ProblemDetail
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &p); err != nil || p.Code == "" {
		kind := domain.KindValidation
		if resp.StatusCode >= 500 {
			kind = domain.KindUnavailable
		}
		return domain.NewError(kind, "authority returned %d", resp.StatusCode)
	}
	kind := domain.Kind(p.Code)
	switch {
	case p.Code == "unauthenticated":
		kind = domain.KindForbidden
	case resp.StatusCode >= 500 && kind != domain.KindUnavailable:
		kind = domain.KindUnavailable
	}
	return &domain.Error{Kind: kind, Message: p.Detail, Metadata: p.Metadata}
}

var _ ports.Authority = (*Client)(nil)
