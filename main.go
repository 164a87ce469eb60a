package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/api/handlers"
	"github.com/veridict/dispute-chat-api/api/scheduler"
	"github.com/veridict/dispute-chat-api/config"
	"github.com/veridict/dispute-chat-api/databases"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	a.Initialize() //initialize database, chat hub and router

	sched := scheduler.NewScheduler(
		databases.NewMessageDatabase(a.DB()),
		databases.NewDisputeDatabase(a.DB()),
		a.Config.RetentionDays,
	)
	sched.Start()
	defer sched.Stop()

	port := os.Getenv("PORT")
	baseURL := os.Getenv("BASE_URL")
	zap.S().Infow("dispute-chat-api is up and running",
		"port", port,
		"url", baseURL,
	)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%v", port), a.Router))
}
