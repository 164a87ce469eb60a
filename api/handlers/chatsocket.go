package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/api"
	"github.com/veridict/dispute-chat-api/chat"
	"github.com/veridict/dispute-chat-api/config"
	"github.com/veridict/dispute-chat-api/databases"
)

// channelTokenTTL bounds how long a minted channel token stays valid
const channelTokenTTL = 15 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChannelToken mints short-lived signed tokens that authenticate websocket
// upgrades. The REST bearer token cannot survive the upgrade handshake from
// browser clients, so the client exchanges it for a channel token first.
type ChannelToken struct {
	UDB       databases.UserDatabase
	JWTSecret []byte
}

// CreateChannelToken exchanges an authenticated REST session for a channel token
func (h ChannelToken) CreateChannelToken(w http.ResponseWriter, r *http.Request) {
	authUser, ok := api.AuthUserFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing authenticated user", http.StatusUnauthorized, w, nil)
		return
	}

	user, err := h.UDB.FindOne(context.Background(), bson.M{"_id": authUser.AccountID})
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return
	}

	if len(h.JWTSecret) == 0 {
		config.ErrorStatus("server misconfigured", http.StatusInternalServerError, w, nil)
		return
	}

	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Details.Username,
		"avatarId": user.Details.AvatarID,
		"typ":      "channel",
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(channelTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.JWTSecret)
	if err != nil {
		config.ErrorStatus("token generation failed", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"channelToken": signed})
}

// ChatSocket upgrades authenticated requests onto the chat hub
type ChatSocket struct {
	Hub       *chat.Hub
	JWTSecret []byte
}

// ServeChatSocket validates the channel token, upgrades the connection and
// serves it until close
func (h ChatSocket) ServeChatSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identityFromToken(r.URL.Query().Get("token"))
	if err != nil {
		zap.S().Debugw("rejected chat socket", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "unauthorized"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "error", err)
		return
	}

	zap.S().Infow("chat client connected", "accountId", identity.AccountID)
	client := chat.NewClient(h.Hub, conn, identity)
	client.Serve()
	zap.S().Infow("chat client disconnected", "accountId", identity.AccountID)
}

func (h ChatSocket) identityFromToken(raw string) (chat.Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return chat.Identity{}, jwt.ErrTokenUnverifiable
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return chat.Identity{}, jwt.ErrTokenInvalidClaims
	}

	id := chat.Identity{}
	id.AccountID, _ = claims["sub"].(string)
	id.Username, _ = claims["username"].(string)
	id.AvatarID, _ = claims["avatarId"].(string)
	if id.AccountID == "" {
		return chat.Identity{}, jwt.ErrTokenInvalidClaims
	}
	return id, nil
}
