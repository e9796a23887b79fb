// Package mock provides a call-counting reaction.Classifier test double.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// Compile-time assertion that Classifier satisfies reaction.Classifier.
var _ reaction.Classifier = (*Classifier)(nil)

// Classifier is a scriptable reaction.Classifier. The zero value
// returns "speaking" for every call.
type Classifier struct {
	mu sync.Mutex

	// Response is the raw label text returned on success.
	Response string

	// Err, when non-nil, is returned instead of Response.
	Err error

	// Delay is slept (context-aware) before responding. Use it to
	// exercise the adapter's timeout path.
	Delay time.Duration

	calls       int
	lastText    string
	lastContext reaction.Context
}

// Classify implements reaction.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string, pc reaction.Context) (string, error) {
	c.mu.Lock()
	c.calls++
	c.lastText = text
	c.lastContext = pc
	delay, resp, err := c.Delay, c.Response, c.Err
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if resp == "" {
		resp = string(reaction.LabelSpeaking)
	}
	return resp, nil
}

// Calls returns how many times Classify has been invoked.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LastText returns the utterance text of the most recent call.
func (c *Classifier) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastText
}

// LastContext returns the participant context of the most recent call.
func (c *Classifier) LastContext() reaction.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastContext
}
