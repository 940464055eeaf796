package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
)

func main() {
	set := flag.Bool("set", false, "register the webhook derived from BOT_HOST and BOT_HOOK")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf(".env error: %v", err)
	}
	token := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if token == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Fatalf("getMe error: %v", err)
	}
	log.Printf("getMe ok: id=%d username=@%s", api.Self.ID, api.Self.UserName)

	if *set {
		url := webhookURL()
		if url == "" {
			log.Fatal("BOT_HOST is required with -set")
		}
		wh, err := tgbotapi.NewWebhook(url)
		if err != nil {
			log.Fatalf("webhook config error: %v", err)
		}
		if _, err := api.Request(wh); err != nil {
			log.Fatalf("setWebhook error: %v", err)
		}
		log.Printf("setWebhook ok: %s", url)
	}

	info, err := api.GetWebhookInfo()
	if err != nil {
		log.Fatalf("getWebhookInfo error: %v", err)
	}
	if !info.IsSet() {
		fmt.Println("webhook: not set (long polling)")
		return
	}
	fmt.Printf("webhook: %s pending=%d max_connections=%d\n", info.URL, info.PendingUpdateCount, info.MaxConnections)
	if info.LastErrorDate != 0 {
		at := time.Unix(int64(info.LastErrorDate), 0).UTC()
		fmt.Printf("last error at %s: %s\n", at.Format(time.RFC3339), info.LastErrorMessage)
	}
}

func webhookURL() string {
	host := strings.TrimSuffix(strings.TrimSpace(os.Getenv("BOT_HOST")), "/")
	if host == "" {
		return ""
	}
	hook := strings.TrimSpace(os.Getenv("BOT_HOOK"))
	if hook == "" {
		hook = "/hook"
	}
	if !strings.HasPrefix(hook, "/") {
		hook = "/" + hook
	}
	return "https://" + host + hook
}
