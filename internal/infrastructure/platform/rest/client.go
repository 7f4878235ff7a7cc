// Package rest talks to the platform bridge over its JSON REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ ports.Platform = (*Client)(nil)

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type channelPayload struct {
	ID         string            `json:"id,omitempty"`
	Parent     string            `json:"parent,omitempty"`
	Name       string            `json:"name"`
	Tag        string            `json:"tag,omitempty"`
	Limit      int               `json:"limit"`
	Members    []string          `json:"members,omitempty"`
	Overwrites map[string]string `json:"overwrites,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (p channelPayload) toDomain() *domain.ChannelInfo {
	info := &domain.ChannelInfo{
		ID:        domain.ChannelID(p.ID),
		Parent:    domain.ChannelID(p.Parent),
		Name:      p.Name,
		Tag:       p.Tag,
		Limit:     p.Limit,
		CreatedAt: p.CreatedAt,
	}
	for _, m := range p.Members {
		info.Members = append(info.Members, domain.UserID(m))
	}
	return info
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("platform bridge returned %d: %s", e.Status, e.Message)
}

func (c *Client) CreateVoiceChannel(ctx context.Context, spec domain.ChannelSpec) (domain.ChannelID, error) {
	body := channelPayload{
		Parent: string(spec.Parent),
		Name:   spec.Name,
		Tag:    spec.Tag,
		Limit:  spec.Limit,
	}
	if len(spec.Overwrites) > 0 {
		body.Overwrites = make(map[string]string, len(spec.Overwrites))
		for u, p := range spec.Overwrites {
			body.Overwrites[string(u)] = string(p)
		}
	}

	var out channelPayload
	if err := c.do(ctx, http.MethodPost, "/channels", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("platform bridge returned a channel without id")
	}
	return domain.ChannelID(out.ID), nil
}

func (c *Client) DeleteVoiceChannel(ctx context.Context, id domain.ChannelID) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(string(id)), nil, nil)
}

func (c *Client) MoveMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) error {
	body := map[string]string{"channel_id": string(channel)}
	return c.do(ctx, http.MethodPost, "/members/"+url.PathEscape(string(user))+"/move", body, nil)
}

func (c *Client) SetChannelPermission(ctx context.Context, channel domain.ChannelID, target domain.UserID, perm domain.Permission) error {
	path := "/channels/" + url.PathEscape(string(channel)) + "/permissions/" + url.PathEscape(string(target))
	return c.do(ctx, http.MethodPut, path, map[string]string{"permission": string(perm)}, nil)
}

func (c *Client) RenameChannel(ctx context.Context, channel domain.ChannelID, name string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+url.PathEscape(string(channel)), map[string]string{"name": name}, nil)
}

func (c *Client) SetChannelLimit(ctx context.Context, channel domain.ChannelID, limit int) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+url.PathEscape(string(channel)), map[string]int{"limit": limit}, nil)
}

func (c *Client) GetChannelMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	var out struct {
		Members []domain.UserID `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(string(channel))+"/members", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) GetChannel(ctx context.Context, channel domain.ChannelID) (*domain.ChannelInfo, error) {
	var out channelPayload
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(string(channel)), nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) ListChannels(ctx context.Context, parent domain.ChannelID) ([]*domain.ChannelInfo, error) {
	var out struct {
		Channels []channelPayload `json:"channels"`
	}
	path := "/channels?parent=" + url.QueryEscape(string(parent))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	infos := make([]*domain.ChannelInfo, len(out.Channels))
	for i, p := range out.Channels {
		infos[i] = p.toDomain()
	}
	return infos, nil
}

func (c *Client) GetMemberName(ctx context.Context, user domain.UserID) (string, error) {
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(string(user)), nil, &out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

// do sends one request. 404 maps to ErrChannelNotFound; 429, 5xx and network
// timeouts map to ErrPlatformTransient.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Timeouts, refused connections and resets are all worth retrying.
		return fmt.Errorf("%w: %s %s: %v", domain.ErrPlatformTransient, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return domain.ErrChannelNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %v", domain.ErrPlatformTransient, readError(resp))
	case resp.StatusCode >= 400:
		return readError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			msg = payload.Message
		} else if payload.Error != "" {
			msg = payload.Error
		}
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}
