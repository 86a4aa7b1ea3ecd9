package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// Putter stores one object.
type Putter interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Archive keeps a copy of every notification in object storage under
// notifications/YYYY/MM/DD/<ksuid>.txt.
type Archive struct {
	putter Putter
	now    func() time.Time
}

func NewArchive(putter Putter, now func() time.Time) *Archive {
	if now == nil {
		now = time.Now
	}
	return &Archive{putter: putter, now: now}
}

func (a *Archive) Send(ctx context.Context, text string) error {
	ts := a.now().UTC()
	id, err := ksuid.NewRandomWithTime(ts)
	if err != nil {
		return fmt.Errorf("archive id: %w", err)
	}
	key := fmt.Sprintf("notifications/%s/%s.txt", ts.Format("2006/01/02"), id.String())
	if err := a.putter.Put(ctx, key, "text/plain; charset=utf-8", []byte(text)); err != nil {
		return fmt.Errorf("archive notification: %w", err)
	}
	return nil
}
