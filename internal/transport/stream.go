package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/feed"
)

// GapEvent is the last frame of a stream that was dropped or closed.
// LastTimestamp is the recording time of the last delivered activity.
// LastCommitAt is the commit time of the last delivered event: its
// resolvedAt for a resolution, its timestamp for an append. Clients recover
// missed appends with since=LastCommitAt and missed resolutions of older
// activities with resolvedSince=LastCommitAt.
type GapEvent struct {
	Reason        string    `json:"reason"`
	LastSeq       uint64    `json:"lastSeq"`
	LastID        int64     `json:"lastId,omitempty"`
	LastTimestamp time.Time `json:"lastTimestamp,omitzero"`
	LastCommitAt  time.Time `json:"lastCommitAt,omitzero"`
}

// handleStream serves the live feed as Server-Sent Events. Each frame
// carries the feed sequence number as its id and the event kind as its
// event name.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rc := http.NewResponseController(w)

	sub := s.cfg.Feed.Subscribe(filter)
	defer s.cfg.Feed.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("stream flush unsupported", "error", err)
		return
	}
	s.logger.Debug("stream opened", "subscription", sub.ID(), "request_id", RequestIDFromContext(r.Context()))

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	var gap GapEvent
	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				s.endStream(w, rc, sub, gap)
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			gap.LastSeq = ev.Seq
			gap.LastID = ev.Activity.ID
			gap.LastTimestamp = ev.Activity.Timestamp
			gap.LastCommitAt = ev.Activity.Timestamp
			if ev.Kind == activity.EventResolved && ev.Activity.ResolvedAt != nil {
				gap.LastCommitAt = *ev.Activity.ResolvedAt
			}
		}
	}
}

func (s *server) endStream(w io.Writer, rc *http.ResponseController, sub *feed.Subscription, gap GapEvent) {
	err := sub.Err()
	switch {
	case errors.Is(err, feed.ErrSubscriberDropped):
		gap.Reason = "dropped"
	case errors.Is(err, feed.ErrClosed):
		gap.Reason = "closed"
	default:
		return
	}
	s.logger.Info("stream ended", "subscription", sub.ID(), "reason", gap.Reason, "last_seq", gap.LastSeq)

	data, _ := json.Marshal(gap)
	_, _ = fmt.Fprintf(w, "event: gap\ndata: %s\n\n", data)
	_ = rc.Flush()
}

func writeEvent(w io.Writer, ev activity.Event) error {
	data, err := json.Marshal(ev.Activity)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
	return err
}
