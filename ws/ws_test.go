package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/pixelnet"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, pixelnet.DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, pixelnet.DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, pixelnet.MaxFrameSize, cfg.MaxFrameSize)
	assert.False(t, cfg.Reconnect.Enabled)
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken(7, "0f8fad5b-d9cb-469f-a165-70867728950e")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), tok.AccountID)
	assert.Len(t, tok.Bytes, pixelnet.TokenSize)

	_, err = ParseToken(7, "not-a-token")
	assert.ErrorIs(t, err, pixelnet.ErrInvalidToken)
}

// TestPaintThroughFacade runs the public constructors against a local board
func TestPaintThroughFacade(t *testing.T) {
	board := NewBoard(NewConfig("", DefaultRateLimitConfig(), AllOrigins(), nil, nil))
	srv := httptest.NewServer(board.Handler())
	defer srv.Close()

	board.IssueToken(5, "key")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tokens, err := NewTokenFetcher(srv.URL).FetchAll(ctx, []pixelnet.Credential{{AccountID: 5, Secret: "key"}})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Cooldown = 0
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + BoardPath
	engine, err := New(NewDialer(url, pixelnet.ModeReadWrite), tokens, cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	defer engine.Close(context.Background())

	res, err := engine.PaintBatch(ctx, []pixelnet.PixelEdit{{X: 3, Y: 4, R: 200, G: 100, B: 50}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())

	r, g, b := board.Pixel(3, 4)
	assert.Equal(t, [3]uint8{200, 100, 50}, [3]uint8{r, g, b})
}

func TestDialFacade(t *testing.T) {
	board := NewBoard(NewConfig("", NoRateLimit(), AllOrigins(), nil, nil))
	srv := httptest.NewServer(board.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + BoardPath
	tr, err := Dial(context.Background(), url, pixelnet.ModeReadOnly)
	require.NoError(t, err)
	assert.NoError(t, tr.Close())
}
