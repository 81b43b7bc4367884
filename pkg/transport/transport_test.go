package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		convID   string
		docID    string
		token    string
		want     string
		wantErr  bool
	}{
		{
			name:     "wss endpoint",
			endpoint: "wss://api.example.com/agent",
			convID:   "conv-1",
			token:    "tok",
			want:     "wss://api.example.com/agent/conv-1?token=tok",
		},
		{
			name:     "https is mapped to wss",
			endpoint: "https://api.example.com/agent",
			convID:   "conv-1",
			token:    "tok",
			want:     "wss://api.example.com/agent/conv-1?token=tok",
		},
		{
			name:     "http is mapped to ws",
			endpoint: "http://localhost:8088/agent",
			convID:   "conv-1",
			token:    "tok",
			want:     "ws://localhost:8088/agent/conv-1?token=tok",
		},
		{
			name:     "document id travels as query",
			endpoint: "ws://localhost/agent",
			convID:   "conv-1",
			docID:    "doc-2",
			token:    "tok",
			want:     "ws://localhost/agent/conv-1?document_id=doc-2&token=tok",
		},
		{
			name:     "trailing slash collapses",
			endpoint: "ws://localhost/agent/",
			convID:   "conv-1",
			token:    "tok",
			want:     "ws://localhost/agent/conv-1?token=tok",
		},
		{
			name:     "unsupported scheme",
			endpoint: "ftp://example.com/agent",
			convID:   "conv-1",
			token:    "tok",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.endpoint, tt.convID, tt.docID, tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloseStatus(t *testing.T) {
	code, clean := CloseStatus(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.True(t, clean)

	code, clean = CloseStatus(&websocket.CloseError{Code: websocket.CloseGoingAway})
	assert.Equal(t, websocket.CloseGoingAway, code)
	assert.True(t, clean)

	code, clean = CloseStatus(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	assert.Equal(t, websocket.CloseAbnormalClosure, code)
	assert.False(t, clean)

	code, clean = CloseStatus(errors.New("plain failure"))
	assert.Zero(t, code)
	assert.False(t, clean)
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func TestWebsocketDialerRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = ws.Close() }()

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"hello":"client"}`)))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		// Keep reading until the client closes.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &WebsocketDialer{HandshakeTimeout: 2 * time.Second}
	rawURL, err := BuildURL(srv.URL, "conv-1", "", "tok")
	require.NoError(t, err)

	conn, err := d.DialContext(context.Background(), rawURL)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"client"}`, string(data))

	require.NoError(t, conn.WriteMessage([]byte(`{"hello":"server"}`)))
	select {
	case got := <-received:
		assert.JSONEq(t, `{"hello":"server"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	require.NoError(t, conn.Close())
	// Close is idempotent.
	require.NoError(t, conn.Close())
}

func TestWebsocketDialerFailsFast(t *testing.T) {
	d := &WebsocketDialer{HandshakeTimeout: 500 * time.Millisecond}
	_, err := d.DialContext(context.Background(), "ws://127.0.0.1:1/agent/conv-1?token=t")
	require.Error(t, err)
}
