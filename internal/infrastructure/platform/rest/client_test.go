package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tempvoice/internal/core/domain"
	platformmem "tempvoice/internal/infrastructure/platform/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridge serves the REST contract on top of the in-memory platform.
func bridge(t *testing.T, p *platformmem.Platform, token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	reply := func(w http.ResponseWriter, v interface{}, err error) {
		switch {
		case errors.Is(err, domain.ErrChannelNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, domain.ErrPlatformTransient):
			w.WriteHeader(http.StatusServiceUnavailable)
		case err != nil:
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
		case v == nil:
			w.WriteHeader(http.StatusNoContent)
		default:
			json.NewEncoder(w).Encode(v)
		}
	}
	info := func(c *domain.ChannelInfo) channelPayload {
		out := channelPayload{ID: string(c.ID), Parent: string(c.Parent), Name: c.Name, Tag: c.Tag, Limit: c.Limit}
		for _, m := range c.Members {
			out.Members = append(out.Members, string(m))
		}
		return out
	}

	mux.HandleFunc("POST /channels", func(w http.ResponseWriter, r *http.Request) {
		var in channelPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		spec := domain.ChannelSpec{Parent: domain.ChannelID(in.Parent), Name: in.Name, Tag: in.Tag, Limit: in.Limit}
		id, err := p.CreateVoiceChannel(r.Context(), spec)
		reply(w, channelPayload{ID: string(id)}, err)
	})
	mux.HandleFunc("GET /channels", func(w http.ResponseWriter, r *http.Request) {
		list, err := p.ListChannels(r.Context(), domain.ChannelID(r.URL.Query().Get("parent")))
		out := struct {
			Channels []channelPayload `json:"channels"`
		}{}
		for _, c := range list {
			out.Channels = append(out.Channels, info(c))
		}
		reply(w, out, err)
	})
	mux.HandleFunc("GET /channels/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, err := p.GetChannel(r.Context(), domain.ChannelID(r.PathValue("id")))
		if err != nil {
			reply(w, nil, err)
			return
		}
		reply(w, info(c), nil)
	})
	mux.HandleFunc("DELETE /channels/{id}", func(w http.ResponseWriter, r *http.Request) {
		reply(w, nil, p.DeleteVoiceChannel(r.Context(), domain.ChannelID(r.PathValue("id"))))
	})
	mux.HandleFunc("PATCH /channels/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Name  *string `json:"name"`
			Limit *int    `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		id := domain.ChannelID(r.PathValue("id"))
		var err error
		if in.Name != nil {
			err = p.RenameChannel(r.Context(), id, *in.Name)
		}
		if in.Limit != nil {
			err = p.SetChannelLimit(r.Context(), id, *in.Limit)
		}
		reply(w, nil, err)
	})
	mux.HandleFunc("GET /channels/{id}/members", func(w http.ResponseWriter, r *http.Request) {
		members, err := p.GetChannelMembers(r.Context(), domain.ChannelID(r.PathValue("id")))
		reply(w, map[string]interface{}{"members": members}, err)
	})
	mux.HandleFunc("PUT /channels/{id}/permissions/{target}", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Permission string `json:"permission"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		err := p.SetChannelPermission(r.Context(), domain.ChannelID(r.PathValue("id")), domain.UserID(r.PathValue("target")), domain.Permission(in.Permission))
		reply(w, nil, err)
	})
	mux.HandleFunc("POST /members/{user}/move", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			ChannelID string `json:"channel_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		reply(w, nil, p.MoveMember(r.Context(), domain.UserID(r.PathValue("user")), domain.ChannelID(in.ChannelID)))
	})
	mux.HandleFunc("GET /members/{user}", func(w http.ResponseWriter, r *http.Request) {
		name, err := p.GetMemberName(r.Context(), domain.UserID(r.PathValue("user")))
		reply(w, map[string]string{"display_name": name}, err)
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	p := platformmem.New()
	p.AddChannel("creator", "cat", "Join to create", "")
	p.SetMemberName("alice", "Alice")
	_, err := p.Connect("alice", "creator")
	require.NoError(t, err)

	c := NewClient(bridge(t, p, "s3cret").URL+"/", "s3cret", time.Second)

	id, err := c.CreateVoiceChannel(ctx, domain.ChannelSpec{Parent: "cat", Name: "I・Alice", Tag: "tempvoice:alice:n1", Limit: 2})
	require.NoError(t, err)

	require.NoError(t, c.MoveMember(ctx, "alice", id))
	members, err := c.GetChannelMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, members)

	require.NoError(t, c.RenameChannel(ctx, id, "I・Study"))
	require.NoError(t, c.SetChannelLimit(ctx, id, 5))
	require.NoError(t, c.SetChannelPermission(ctx, id, domain.Everyone, domain.PermissionDeny))
	assert.Equal(t, domain.PermissionDeny, p.Permission(id, domain.Everyone))

	info, err := c.GetChannel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "I・Study", info.Name)
	assert.Equal(t, 5, info.Limit)
	assert.Equal(t, "tempvoice:alice:n1", info.Tag)

	list, err := c.ListChannels(ctx, "cat")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	name, err := c.GetMemberName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	require.NoError(t, c.DeleteVoiceChannel(ctx, id))
	assert.ErrorIs(t, c.DeleteVoiceChannel(ctx, id), domain.ErrChannelNotFound)
	_, err = c.GetChannelMembers(ctx, id)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	p := platformmem.New()
	p.AddChannel("room", "cat", "Room", "")
	c := NewClient(bridge(t, p, "s3cret").URL, "s3cret", time.Second)

	p.FailNext("rename_channel", domain.ErrPlatformTransient)
	assert.ErrorIs(t, c.RenameChannel(ctx, "room", "x"), domain.ErrPlatformTransient)

	p.FailNext("rename_channel", errors.New("missing access"))
	err := c.RenameChannel(ctx, "room", "x")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "missing access", apiErr.Message)
	assert.NotErrorIs(t, err, domain.ErrPlatformTransient)

	bad := NewClient(bridge(t, p, "s3cret").URL, "wrong", time.Second)
	err = bad.RenameChannel(ctx, "room", "x")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_UnreachableBridgeIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second)
	_, err := c.GetChannel(context.Background(), "room")
	assert.ErrorIs(t, err, domain.ErrPlatformTransient)
}
