package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/api"
	"github.com/veridict/dispute-chat-api/chat"
	"github.com/veridict/dispute-chat-api/config"
	"github.com/veridict/dispute-chat-api/databases"
	"github.com/veridict/dispute-chat-api/storage"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	Hub      *chat.Hub
	dbHelper databases.DatabaseHelper
}

// Initialize connects to mongo, starts the chat hub and builds the router
func (a *App) Initialize() {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		zap.S().Fatalw("failed to create mongo client", "error", err)
	}
	if err := client.Connect(); err != nil {
		zap.S().Fatalw("failed to connect to mongo", "error", err)
	}
	a.dbHelper = databases.NewDatabase(&a.Config, client)

	var store storage.FileStore
	if a.Config.CloudinaryURL != "" {
		cld, err := storage.NewCloudinaryStore(a.Config.CloudinaryURL)
		if err != nil {
			zap.S().Fatalw("failed to init cloudinary", "error", err)
		}
		store = cld
	} else {
		zap.S().Warn("CLOUDINARY_URL not set, attachment uploads disabled")
	}

	a.Router = a.New(store)
}

// DB exposes the database helper for wiring outside the router (scheduler)
func (a *App) DB() databases.DatabaseHelper {
	return a.dbHelper
}

// New creates a new mux router and all the routes
func (a *App) New(store storage.FileStore) *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	messages := databases.NewMessageDatabase(a.dbHelper)
	disputes := databases.NewDisputeDatabase(a.dbHelper)
	counters := databases.NewCounterDatabase(a.dbHelper)
	notifications := databases.NewNotificationDatabase(a.dbHelper)

	if a.Hub == nil {
		a.Hub = chat.NewHub(messages, disputes, counters, chat.NewEmailNotifier(notifications))
		go a.Hub.Run()
	}

	r := mux.NewRouter()

	sock := ChatSocket{Hub: a.Hub, JWTSecret: []byte(a.Config.JWTSecret)}
	tok := ChannelToken{UDB: databases.NewUserDatabase(a.dbHelper), JWTSecret: []byte(a.Config.JWTSecret)}
	att := Attachment{MDB: messages, Store: store, Hub: a.Hub}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	r.HandleFunc("/ws/chat", sock.ServeChatSocket)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(30 * time.Second))

	apiCreate.Handle("/auth/token", http.HandlerFunc(m.CreateToken)).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")
	apiCreate.Handle("/auth/channel-token", api.Middleware(http.HandlerFunc(tok.CreateChannelToken))).Methods("POST")

	apiCreate.Handle("/dispute/{dispute_id}/message/{message_id}/attachments",
		api.Middleware(http.HandlerFunc(att.UploadHandler))).Methods("POST")
	apiCreate.Handle("/dispute/{dispute_id}/file/{file_id}",
		api.Middleware(http.HandlerFunc(att.DownloadHandler))).Methods("GET")

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"alive": true}`))
}
