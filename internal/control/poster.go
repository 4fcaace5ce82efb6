package control

import (
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const posterTimeout = 500 * time.Millisecond

// Poster publishes events by POSTing them to the broadcast endpoint. It is
// fire-and-forget with a hard timeout: a slow or absent control plane must
// never stall the trading pipeline.
type Poster struct {
	client *resty.Client
	url    string

	mu         sync.Mutex
	failLogged bool
}

// NewPoster creates a poster targeting baseURL, e.g. "http://localhost:8000".
func NewPoster(baseURL string) *Poster {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(posterTimeout)
	return &Poster{client: client, url: baseURL}
}

// Publish serializes the event and posts it asynchronously. Failures are
// logged once per outage episode.
func (p *Poster) Publish(event any) {
	go func() {
		_, err := p.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(event).
			Post("/internal/broadcast")

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			if !p.failLogged {
				log.Printf("[poster] broadcast to %s failing: %v", p.url, err)
				p.failLogged = true
			}
			return
		}
		p.failLogged = false
	}()
}
