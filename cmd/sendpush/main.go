// Package main sends one encrypted push message to a subscription, the
// way the application server would. Useful for exercising a running agent.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"webpush-agent/pkg/push"
)

func main() {
	subFile := flag.String("subscription", "", "path to the subscription JSON (PushSubscription shape)")
	message := flag.String("message", `{"title":"Test","body":"Hello from sendpush"}`, "payload JSON to send")
	ttl := flag.Int("ttl", 60, "message TTL in seconds")
	flag.Parse()

	// .env provides the VAPID keys in development.
	_ = godotenv.Load()

	vapidPublic := os.Getenv("VAPID_PUBLIC_KEY")
	vapidPrivate := os.Getenv("VAPID_PRIVATE_KEY")
	if vapidPublic == "" || vapidPrivate == "" {
		fmt.Fprintln(os.Stderr, "VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required")
		os.Exit(1)
	}
	if *subFile == "" {
		fmt.Fprintln(os.Stderr, "-subscription is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*subFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read subscription: %v\n", err)
		os.Exit(1)
	}
	var sub push.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		fmt.Fprintf(os.Stderr, "parse subscription: %v\n", err)
		os.Exit(1)
	}

	resp, err := webpush.SendNotification([]byte(*message), &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      os.Getenv("VAPID_SUBJECT"),
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		TTL:             *ttl,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, body)
}
