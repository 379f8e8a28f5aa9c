package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	logx "slotwatch/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServerServesStatusAndHealth(t *testing.T) {
	defer goleak.VerifyNone(t)

	report := func() any { return map[string]int{"total": 3} }
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, report, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	base := "http://" + s.Addr()

	code, body := get(t, base+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, base+"/status", "")
	require.Equal(t, http.StatusOK, code)
	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, 3, got["total"])

	code, _ = get(t, base+"/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))
}

func TestServerTokenAndPprof(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret", Pprof: true}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	base := "http://" + s.Addr()

	code, _ := get(t, base+"/status", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	for _, bad := range []string{"wrong", "s3cre", "s3cret2", "S3CRET"} {
		code, _ = get(t, base+"/status", bad)
		assert.Equal(t, http.StatusUnauthorized, code, bad)
	}
	code, body := get(t, base+"/status", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{}`, body)
	code, _ = get(t, base+"/debug/pprof/?token=s3cret", "")
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServerRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	require.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
	assert.Empty(t, s.Addr())
}

func TestServerDisabledIsNoop(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":   true,
		"localhost:1":    true,
		"[::1]:9":        true,
		":8080":          false,
		"10.0.0.1:8080":  false,
		"not-an-address": false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
