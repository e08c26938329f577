package link

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrResources)
}

// Send transmits p, retrying transient errors up to retries times at a
// constant interval. Other errors are returned after the first attempt.
func Send(l Link, p []byte, retries int, interval time.Duration) error {
	op := func() error {
		err := l.Send(p)
		if err == nil || Transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(retries))
	return backoff.Retry(op, b)
}

// Retrier sends through a link with bounded retries.
type Retrier struct {
	Link     Link
	Retries  int
	Interval time.Duration
}

// Send implements the buffer sender.
func (r Retrier) Send(p []byte) error {
	return Send(r.Link, p, r.Retries, r.Interval)
}
