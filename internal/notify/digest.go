package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/store"
)

// cronParser accepts standard 5-field cron expressions (minute, hour,
// dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Digest periodically summarizes unread messages through the offline
// dispatcher, so mail left unread between dashboard sessions is not
// forgotten.
type Digest struct {
	store      *store.Store
	dispatcher hub.OfflineDispatcher
	schedule   cron.Schedule
	out        io.Writer
	now        func() time.Time
}

// DigestOpts holds parameters for creating a Digest.
type DigestOpts struct {
	Store      *store.Store
	Dispatcher hub.OfflineDispatcher
	Spec       string    // 5-field cron expression
	Out        io.Writer // defaults to os.Stderr
}

// NewDigest creates a Digest from a cron spec.
func NewDigest(opts DigestOpts) (*Digest, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("notify: digest: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("notify: digest: dispatcher is required")
	}
	sched, err := cronParser.Parse(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("notify: digest: parse cron %q: %w", opts.Spec, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return &Digest{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		schedule:   sched,
		out:        out,
		now:        time.Now,
	}, nil
}

// Run fires the digest on schedule until ctx is cancelled.
func (d *Digest) Run(ctx context.Context) {
	for {
		next := d.schedule.Next(d.now())
		select {
		case <-time.After(time.Until(next)):
			if err := d.Fire(ctx); err != nil {
				fmt.Fprintf(d.out, "notify: digest: %v\n", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Fire computes the unread summary and dispatches it. A digest with
// nothing unread is skipped.
func (d *Digest) Fire(ctx context.Context) error {
	counts, err := d.store.UnreadCounts()
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}

	agents := make([]string, 0, len(counts))
	var total int64
	for agent, n := range counts {
		agents = append(agents, agent)
		total += n
	}
	sort.Strings(agents)

	body := ""
	for i, agent := range agents {
		if i > 0 {
			body += ", "
		}
		body += fmt.Sprintf("%s (%d)", agent, counts[agent])
	}

	return d.dispatcher.Dispatch(ctx, hub.Notification{
		Recipient: "user",
		Title:     fmt.Sprintf("%d unread agent messages", total),
		Body:      body,
		DeepLink:  "switchboard://inbox",
	})
}
