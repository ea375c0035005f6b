package refresher_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/dgellow/melody/internal/refresher"
)

// A command-line agent that logged in through a browser hands its session
// cookies to a jar and keeps the access token fresh. The refresh hint makes
// each tick replace the token before it expires.
func ExampleRefresher() {
	jar, _ := cookiejar.New(nil)
	base, _ := url.Parse("https://melody.example.com")
	jar.SetCookies(base, []*http.Cookie{{Name: "spotify_refresh_token", Value: "RT1", Path: "/"}})

	r := refresher.New(base.String()+"/token?refresh=1", &http.Client{Jar: jar, Timeout: 10 * time.Second}, 55*time.Minute, refresher.Options{
		OnToken: func(token string) {
			fmt.Println("access token refreshed")
		},
		OnExpired: func(err error) {
			fmt.Println("log in again:", err)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	defer r.Stop()
}
